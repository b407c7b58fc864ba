package session

import (
	"context"
	"sync"

	"codeberg.org/mutker/inferctl/internal/errors"
)

// Stream is a finite sequence of generation events. The producer closes
// Events after the terminal event.
type Stream struct {
	events    chan Event
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelCauseFunc
}

func newStream(buffer int) *Stream {
	return &Stream{
		events: make(chan Event, buffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
		cancel: func(error) {},
	}
}

// failedStream returns a stream holding a single Error event.
func failedStream(err error) *Stream {
	s := newStream(1)
	s.events <- Event{Kind: EventError, Err: err}
	close(s.events)
	close(s.done)
	return s
}

func (s *Stream) Events() <-chan Event { return s.events }

// Close cancels the generation and waits until the producer has released the
// session. Events still buffered are discarded.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel(errors.New().New(ErrStreamClosed))
		close(s.closed)
	})
	<-s.done
}

// Collect reads the stream to the end.
func (s *Stream) Collect() []Event {
	var out []Event
	for ev := range s.events {
		out = append(out, ev)
	}
	return out
}

// emit delivers a non-terminal event, giving up when ctx is cancelled or the
// consumer closed the stream.
func (s *Stream) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
}

// finish delivers the terminal event unless the consumer is gone, then ends
// the stream.
func (s *Stream) finish(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
	close(s.events)
	close(s.done)
}
