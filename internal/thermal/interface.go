package thermal

import (
	"context"
	"time"
)

// State is the discretised thermal tier.
type State int

const (
	StateNormal State = iota
	StateWarm
	StateHot
	StateCritical
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateWarm:
		return "warm"
	case StateHot:
		return "hot"
	case StateCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Trend is the short-term direction of the temperature signal.
type Trend int

const (
	TrendFallingFast Trend = iota - 2
	TrendFalling
	TrendStable
	TrendRising
	TrendRisingFast
)

func (t Trend) String() string {
	switch t {
	case TrendFallingFast:
		return "falling_fast"
	case TrendFalling:
		return "falling"
	case TrendStable:
		return "stable"
	case TrendRising:
		return "rising"
	case TrendRisingFast:
		return "rising_fast"
	default:
		return "unknown"
	}
}

// Reading is a single sensor sample. Value is in degrees Celsius (or a proxy
// on the same scale); Status is the sensor's raw status code.
type Reading struct {
	Timestamp time.Time
	Value     float64
	Status    uint64
}

// Sensor produces readings. Implementations may leave Timestamp zero; the
// monitor stamps it.
type Sensor interface {
	Read(ctx context.Context) (Reading, error)
}

// SensorFunc adapts a function to the Sensor interface.
type SensorFunc func(ctx context.Context) (Reading, error)

func (f SensorFunc) Read(ctx context.Context) (Reading, error) { return f(ctx) }

// StateChange is delivered to subscribers when the discretised state changes.
type StateChange struct {
	Previous State
	Current  State
	Reading  Reading
	Trend    Trend
}
