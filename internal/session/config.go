package session

import (
	"codeberg.org/mutker/inferctl/internal/errors"
)

type Config struct {
	// ContextSize is used when a descriptor does not set one.
	ContextSize int
	// Seed < 0 selects a time-based seed.
	Seed int

	// WindowCeiling triggers eviction; WindowTarget is where it stops.
	WindowCeiling int
	WindowTarget  int

	// CheckEvery is the incremental output check interval in tokens.
	CheckEvery   int
	StreamBuffer int

	Defaults Params

	CriticalMaxTokens    int
	CriticalTemperature  float32
	HotTemperatureFactor float32
}

func DefaultConfig() Config {
	return Config{
		ContextSize:   2048,
		Seed:          -1,
		WindowCeiling: 2048,
		WindowTarget:  2048,
		CheckEvery:    10,
		StreamBuffer:  16,
		Defaults: Params{
			MaxTokens:     512,
			Temperature:   0.7,
			TopK:          40,
			TopP:          0.9,
			RepeatPenalty: 1.1,
		},
		CriticalMaxTokens:    128,
		CriticalTemperature:  0.2,
		HotTemperatureFactor: 0.7,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.ContextSize < 1:
		return errFactory.WithData(ErrInvalidConfig, "context size must be positive")
	case c.WindowCeiling < 1:
		return errFactory.WithData(ErrInvalidConfig, "window ceiling must be positive")
	case c.WindowTarget < 1 || c.WindowTarget > c.WindowCeiling:
		return errFactory.WithData(ErrInvalidConfig, "window target must be in [1, ceiling]")
	case c.CheckEvery < 1:
		return errFactory.WithData(ErrInvalidConfig, "check interval must be positive")
	case c.StreamBuffer < 1:
		return errFactory.WithData(ErrInvalidConfig, "stream buffer must be positive")
	case c.Defaults.MaxTokens < 1:
		return errFactory.WithData(ErrInvalidConfig, "default max tokens must be positive")
	case c.CriticalMaxTokens < 1:
		return errFactory.WithData(ErrInvalidConfig, "critical max tokens must be positive")
	case c.HotTemperatureFactor <= 0 || c.HotTemperatureFactor > 1:
		return errFactory.WithData(ErrInvalidConfig, "hot temperature factor must be in (0, 1]")
	}
	return nil
}
