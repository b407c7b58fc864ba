package scheduler

import (
	"time"

	"codeberg.org/mutker/inferctl/internal/errors"
)

const (
	defaultBoostDuration       = 30 * time.Second
	defaultLoadPeriod          = 5 * time.Second
	defaultMemoryPressureRatio = 0.85
)

type Config struct {
	InitialMode         Mode
	BoostDuration       time.Duration
	BoostCooldown       time.Duration
	LoadPeriod          time.Duration
	MemoryPressureRatio float64
	// PowerFractions maps the effective mode to a fraction of the default
	// accelerator power limit.
	PowerFractions map[Mode]float64
}

func DefaultConfig() Config {
	return Config{
		InitialMode:         ModeBalanced,
		BoostDuration:       defaultBoostDuration,
		BoostCooldown:       defaultBoostDuration,
		LoadPeriod:          defaultLoadPeriod,
		MemoryPressureRatio: defaultMemoryPressureRatio,
		PowerFractions: map[Mode]float64{
			ModePowerSave:       0.6,
			ModeBalanced:        0.8,
			ModeHighPerformance: 0.9,
			ModeMaximum:         1.0,
		},
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	switch {
	case !c.InitialMode.Valid():
		return errFactory.WithData(errors.ErrInvalidConfig, "invalid initial mode")
	case c.BoostDuration <= 0:
		return errFactory.WithData(errors.ErrInvalidInterval, "boost duration must be positive")
	case c.BoostCooldown < 0:
		return errFactory.WithData(errors.ErrInvalidInterval, "boost cooldown must not be negative")
	case c.LoadPeriod <= 0:
		return errFactory.WithData(errors.ErrInvalidInterval, "load period must be positive")
	case c.MemoryPressureRatio <= 0 || c.MemoryPressureRatio > 1:
		return errFactory.WithData(errors.ErrInvalidConfig, "memory pressure ratio must be in (0, 1]")
	}
	for m, f := range c.PowerFractions {
		if f <= 0 || f > 1 {
			return errFactory.WithData(errors.ErrInvalidConfig, "power fraction for "+m.String()+" must be in (0, 1]")
		}
	}
	return nil
}
