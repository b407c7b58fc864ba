package events

import (
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 64

// Handler is invoked for every delivered event.
type Handler func(Event)

// Bus is a buffered, drop-oldest Sink. Publish enqueues without blocking;
// when the buffer is full the oldest queued event is discarded. A single
// dispatcher goroutine delivers events to subscribers in publish order.
type Bus struct {
	queue   chan Event
	mu      sync.RWMutex
	subs    map[int]Handler
	nextID  int
	dropped atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

// NewBus starts a bus with the given buffer size (64 when size <= 0).
func NewBus(size int) *Bus {
	if size <= 0 {
		size = defaultBufferSize
	}
	b := &Bus{
		queue: make(chan Event, size),
		subs:  make(map[int]Handler),
		done:  make(chan struct{}),
	}
	go b.dispatch()

	return b
}

// Subscribe registers a handler and returns an unsubscribe function.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish enqueues ev, evicting the oldest queued event if needed.
func (b *Bus) Publish(ev Event) {
	defer func() {
		// publishing after Close is a no-op
		_ = recover()
	}()

	for {
		select {
		case b.queue <- ev:
			return
		default:
		}
		select {
		case <-b.queue:
			b.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns how many events were evicted because the buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.queue)
		<-b.done
	})
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for ev := range b.queue {
		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.subs))
		for _, h := range b.subs {
			handlers = append(handlers, h)
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			h(ev)
		}
	}
}
