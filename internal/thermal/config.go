package thermal

import (
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
)

const (
	defaultPeriod      = 2 * time.Second
	defaultHistorySize = 60
	defaultTrendWindow = 10
	// slopes in degrees per second
	defaultStableSlope = 0.02
	defaultFastSlope   = 0.1
)

// Thresholds are lower bounds (inclusive) for each non-normal state.
type Thresholds struct {
	Warm     float64
	Hot      float64
	Critical float64
}

// DefaultThresholds returns the stock 35/45/50 °C tiers.
func DefaultThresholds() Thresholds {
	return Thresholds{Warm: 35, Hot: 45, Critical: 50}
}

// Classify maps a reading value onto a State.
func (t Thresholds) Classify(v float64) State {
	switch {
	case v >= t.Critical:
		return StateCritical
	case v >= t.Hot:
		return StateHot
	case v >= t.Warm:
		return StateWarm
	default:
		return StateNormal
	}
}

type Config struct {
	Period      time.Duration
	HistorySize int
	TrendWindow int
	Thresholds  Thresholds
	// StableSlope is the |°C/s| below which the trend is stable.
	StableSlope float64
	// FastSlope is the |°C/s| at or above which the trend is *_FAST.
	FastSlope float64
}

func DefaultConfig() Config {
	return Config{
		Period:      defaultPeriod,
		HistorySize: defaultHistorySize,
		TrendWindow: defaultTrendWindow,
		Thresholds:  DefaultThresholds(),
		StableSlope: defaultStableSlope,
		FastSlope:   defaultFastSlope,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	switch {
	case c.Period <= 0:
		return errFactory.WithData(errors.ErrInvalidInterval, c.Period)
	case c.HistorySize < 1:
		return errFactory.WithData(ErrInvalidConfig, "history size must be positive")
	case c.TrendWindow < 1 || c.TrendWindow > c.HistorySize:
		return errFactory.WithData(ErrInvalidConfig, "trend window must be within history size")
	case !(c.Thresholds.Warm < c.Thresholds.Hot && c.Thresholds.Hot < c.Thresholds.Critical):
		return errFactory.WithData(ErrInvalidConfig, "thresholds must be strictly increasing")
	case c.StableSlope < 0 || c.FastSlope <= c.StableSlope:
		return errFactory.WithData(ErrInvalidConfig, "fast slope must exceed stable slope")
	}
	return nil
}
