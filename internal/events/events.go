// Package events carries lifecycle notifications from the scheduler and the
// session manager to whoever listens. Publishing never blocks the emitter.
package events

import "time"

// Event names published by the scheduler and session manager.
const (
	ModeChanged         = "mode_changed"
	ThermalStateChanged = "thermal_state_changed"
	ThreadsReconfigured = "threads_reconfigured"
	BoostGranted        = "boost_granted"
	BoostExpired        = "boost_expired"
	BoostCancelled      = "boost_cancelled"
	ModelLoaded         = "model_loaded"
	ModelLoadFailed     = "model_load_failed"
	ModelUnloaded       = "model_unloaded"
	SessionCreated      = "session_created"
	SessionClosed       = "session_closed"
	SessionTrimmed      = "session_trimmed"
)

// Event is a lifecycle notification. Fields holds optional key/values.
type Event struct {
	Name   string
	Time   time.Time
	Fields map[string]any
}

// Sink receives events. Implementations must not block and must not panic.
type Sink interface {
	Publish(Event)
}

// New builds an event stamped with the current time.
func New(name string, fields map[string]any) Event {
	return Event{Name: name, Time: time.Now(), Fields: fields}
}

type nopSink struct{}

func (nopSink) Publish(Event) {}

// Nop returns a sink that drops every event.
func Nop() Sink { return nopSink{} }
