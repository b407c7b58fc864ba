package device

import (
	"context"
	"sync"
	"time"
)

// StaticSource serves a fixed profile and a settable load. It backs tests and
// hosts without procfs.
type StaticSource struct {
	profile Profile
	mu      sync.RWMutex
	load    Load
	err     error
}

func NewStaticSource(p Profile) *StaticSource {
	return &StaticSource{profile: p}
}

func (s *StaticSource) Profile() Profile { return s.profile }

// SetLoad replaces the load returned by Load.
func (s *StaticSource) SetLoad(l Load) {
	s.mu.Lock()
	s.load = l
	s.mu.Unlock()
}

// SetError makes subsequent Load calls fail with err (nil clears it).
func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *StaticSource) Load(_ context.Context) (Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return Load{}, s.err
	}
	l := s.load
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now()
	}
	return l, nil
}
