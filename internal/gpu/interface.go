package gpu

import (
	"codeberg.org/mutker/inferctl/internal/device"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlDevice is the subset of nvml.Device used here; nvml.Device satisfies it.
type nvmlDevice interface {
	GetName() (string, nvml.Return)
	GetUUID() (string, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
	GetCudaComputeCapability() (int, int, nvml.Return)
	GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return)
	GetCurrentClocksThrottleReasons() (uint64, nvml.Return)
	GetPowerManagementLimitConstraints() (uint32, uint32, nvml.Return)
	GetPowerManagementDefaultLimit() (uint32, nvml.Return)
	GetPowerManagementLimit() (uint32, nvml.Return)
	SetPowerManagementLimit(uint32) nvml.Return
}

// Info describes an accelerator as seen by NVML.
type Info struct {
	Index        int
	Name         string
	UUID         string
	MemoryBytes  uint64
	ComputeMajor int
	ComputeMinor int
	Capabilities device.Capability
}

// PowerGovernor scales the board power limit.
type PowerGovernor interface {
	// SetPowerFraction sets the limit to fraction × default, clamped to the
	// board constraints.
	SetPowerFraction(fraction float64) error
	CurrentLimit() PowerLimit
	Limits() PowerLimits
	ResetToDefault() error
}

// PowerLimit is in watts.
type PowerLimit int

type PowerLimits struct {
	Min, Max, Default PowerLimit
}
