package device

import (
	"context"
	"strings"
	"time"
)

// Class is the device performance class, ordered from weakest to strongest.
type Class int

const (
	ClassBudget Class = iota
	ClassMidRange
	ClassHigh
	ClassFlagship
)

func (c Class) String() string {
	switch c {
	case ClassBudget:
		return "budget"
	case ClassMidRange:
		return "mid_range"
	case ClassHigh:
		return "high"
	case ClassFlagship:
		return "flagship"
	default:
		return "unknown"
	}
}

// ParseClass maps a configured class name onto a Class.
func ParseClass(s string) (Class, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "budget":
		return ClassBudget, true
	case "mid_range", "mid", "midrange":
		return ClassMidRange, true
	case "high":
		return ClassHigh, true
	case "flagship":
		return ClassFlagship, true
	default:
		return ClassBudget, false
	}
}

// Capability is a bit set of accelerator and numeric-format support.
type Capability uint8

const (
	CapGPU Capability = 1 << iota
	CapNPU
	CapFP16
	CapINT8
)

// Profile is an immutable snapshot of static device capability.
type Profile struct {
	Cores        int
	Capabilities Capability
	Class        Class
	RAMBytes     uint64
	// AcceleratorName is informational (e.g. the GPU model name).
	AcceleratorName string
}

// Has reports whether every capability in c is present.
func (p Profile) Has(c Capability) bool {
	return p.Capabilities&c == c
}

// HasAccelerator reports whether a GPU or NPU is available.
func (p Profile) HasAccelerator() bool {
	return p.Capabilities&(CapGPU|CapNPU) != 0
}

// RAMMB returns installed RAM in MiB.
func (p Profile) RAMMB() int {
	return int(p.RAMBytes / (1024 * 1024))
}

// Load is the instantaneous utilisation of the device.
type Load struct {
	Timestamp time.Time
	// CPUPercent is total utilisation across cores in [0, 100].
	CPUPercent float64
	// PerCore holds utilisation per logical CPU in [0, 100].
	PerCore []float64
	// MemoryPressure is the used fraction of RAM in [0, 1].
	MemoryPressure float64
	AvailableBytes uint64
}

// Source exposes the device profile and its current load.
type Source interface {
	// Profile returns the cached static profile.
	Profile() Profile
	// Load samples current utilisation.
	Load(ctx context.Context) (Load, error)
}
