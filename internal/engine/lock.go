package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// exclusive serialises calls into a native model. Unlike a mutex, waiting
// for it ends with the caller's context.
type exclusive struct {
	sem *semaphore.Weighted
}

func newExclusive() exclusive {
	return exclusive{sem: semaphore.NewWeighted(1)}
}

// acquire returns the context's cause when ctx ends before the model is free.
func (e exclusive) acquire(ctx context.Context) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return context.Cause(ctx)
	}
	return nil
}

func (e exclusive) release() { e.sem.Release(1) }
