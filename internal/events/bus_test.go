package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	bus.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Name)
		mu.Unlock()
	})

	bus.Publish(New(ModeChanged, nil))
	bus.Publish(New(BoostGranted, nil))
	bus.Publish(New(BoostExpired, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{ModeChanged, BoostGranted, BoostExpired}, got)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(2)
	defer bus.Close()

	release := make(chan struct{})
	bus.Subscribe(func(Event) { <-release })

	done := make(chan struct{})
	go func() {
		for range 100 {
			bus.Publish(New(ThermalStateChanged, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)
	assert.Positive(t, bus.Dropped())
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(4)
	var mu sync.Mutex
	calls := 0
	unsub := bus.Subscribe(func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	unsub()

	bus.Publish(New(ModelLoaded, nil))
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus(1)
	bus.Close()
	assert.NotPanics(t, func() { bus.Publish(New(ModelUnloaded, nil)) })
}
