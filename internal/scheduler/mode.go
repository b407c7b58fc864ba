package scheduler

import (
	"strings"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/thermal"
)

// Mode is the performance mode. Modes are ordered; a higher mode may use
// more threads, power and heat.
type Mode int

const (
	ModePowerSave Mode = iota
	ModeBalanced
	ModeHighPerformance
	ModeMaximum
)

func (m Mode) String() string {
	switch m {
	case ModePowerSave:
		return "power_save"
	case ModeBalanced:
		return "balanced"
	case ModeHighPerformance:
		return "high_performance"
	case ModeMaximum:
		return "maximum"
	default:
		return "unknown"
	}
}

func (m Mode) Valid() bool { return m >= ModePowerSave && m <= ModeMaximum }

// Up returns the next higher mode, saturating at MAXIMUM.
func (m Mode) Up() Mode {
	if m >= ModeMaximum {
		return ModeMaximum
	}
	return m + 1
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "power_save", "powersave", "power-save":
		return ModePowerSave, nil
	case "balanced":
		return ModeBalanced, nil
	case "high_performance", "highperformance", "high-performance", "performance":
		return ModeHighPerformance, nil
	case "maximum", "max":
		return ModeMaximum, nil
	default:
		return ModeBalanced, errors.New().WithData(errors.ErrInvalidArgument, "unknown performance mode: "+s)
	}
}

// Ceiling is the highest mode permitted under a thermal state.
func Ceiling(s thermal.State) Mode {
	switch s {
	case thermal.StateCritical:
		return ModePowerSave
	case thermal.StateHot:
		return ModeBalanced
	case thermal.StateWarm:
		return ModeHighPerformance
	default:
		return ModeMaximum
	}
}

func minMode(a, b Mode) Mode {
	if a < b {
		return a
	}
	return b
}
