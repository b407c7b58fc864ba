package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// BoostHandle is a granted, time-boxed one-step mode escalation.
type BoostHandle struct {
	ID       uuid.UUID
	Start    time.Time
	Duration time.Duration
	Reason   string

	s    *Scheduler
	stop func() bool
}

// Cancel ends the boost early. It reports whether this call ended it.
func (h *BoostHandle) Cancel() bool {
	return h.s.endBoost(h, false)
}

// Active reports whether the boost is still in effect.
func (h *BoostHandle) Active() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.boost == h
}

// BoostInfo is a read-only view of the active boost.
type BoostInfo struct {
	ID        string
	Reason    string
	Start     time.Time
	Remaining time.Duration
}

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
