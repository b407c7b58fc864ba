package scheduler

import (
	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/thermal"
)

// Threads is a requested pair of pool sizes.
type Threads struct {
	Inference  int
	Background int
}

// ModeThreads is the inference thread count for a mode before thermal caps.
func ModeThreads(p device.Profile, m Mode) int {
	def := device.DefaultInferenceThreads(p)
	switch m {
	case ModePowerSave:
		return max(1, def/2)
	case ModeMaximum:
		return max(1, p.Cores)
	default:
		return def
	}
}

// PolicyThreads applies the thermal throttle table to the mode's thread
// counts: CRITICAL pins both pools to one worker, HOT halves them.
func PolicyThreads(p device.Profile, m Mode, s thermal.State) Threads {
	if s == thermal.StateCritical {
		return Threads{Inference: 1, Background: 1}
	}

	t := Threads{
		Inference:  ModeThreads(p, m),
		Background: device.DefaultBackgroundThreads(p),
	}
	if s == thermal.StateHot {
		t.Inference = max(1, t.Inference/2)
		t.Background = max(1, t.Background/2)
	}
	return ClampThreads(p, t)
}

// ClampThreads bounds inference to [1, cores] and background to
// [1, max(2, cores/2)].
func ClampThreads(p device.Profile, t Threads) Threads {
	return Threads{
		Inference:  clamp(t.Inference, 1, max(1, p.Cores)),
		Background: clamp(t.Background, 1, device.MaxBackgroundThreads(p)),
	}
}

func validThreads(p device.Profile, t Threads) bool {
	return t.Inference >= 1 && t.Inference <= max(1, p.Cores) &&
		t.Background >= 1 && t.Background <= device.MaxBackgroundThreads(p)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
