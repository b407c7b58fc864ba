package workerpool

import (
	"context"
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
)

const (
	InferencePool  = "inference"
	BackgroundPool = "background"
)

// Sizes is a pair of pool sizes with the versions that carry them.
type Sizes struct {
	Inference         int
	Background        int
	InferenceVersion  uint64
	BackgroundVersion uint64
}

// Set groups the inference and background pools governed by the scheduler.
type Set struct {
	Inference  *Pool
	Background *Pool
}

func NewSet(ctx context.Context, inference, background int) (*Set, error) {
	inf, err := New(ctx, InferencePool, inference)
	if err != nil {
		return nil, err
	}
	bg, err := New(ctx, BackgroundPool, background)
	if err != nil {
		return nil, err
	}
	return &Set{Inference: inf, Background: bg}, nil
}

// Resize resizes both pools.
func (s *Set) Resize(inference, background int) (Sizes, error) {
	iv, err := s.Inference.Resize(inference)
	if err != nil {
		return Sizes{}, err
	}
	bv, err := s.Background.Resize(background)
	if err != nil {
		return Sizes{}, err
	}
	return Sizes{Inference: inference, Background: background, InferenceVersion: iv, BackgroundVersion: bv}, nil
}

func (s *Set) Sizes() Sizes {
	return Sizes{
		Inference:         s.Inference.Size(),
		Background:        s.Background.Size(),
		InferenceVersion:  s.Inference.Version(),
		BackgroundVersion: s.Background.Version(),
	}
}

// Close closes both pools, sharing one timeout budget.
func (s *Set) Close(timeout time.Duration) error {
	start := time.Now()
	errInf := s.Inference.Close(timeout)
	remaining := timeout - time.Since(start)
	if remaining < 0 {
		remaining = 0
	}
	errBg := s.Background.Close(remaining)
	if errInf != nil {
		return errInf
	}
	if errBg != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, errBg)
	}
	return nil
}
