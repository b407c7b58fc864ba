package engine

import "codeberg.org/mutker/inferctl/internal/device"

// AllLayers asks the runtime to offload every layer.
const AllLayers = 999

// GPULayers picks how many layers to offload. Nothing is offloaded without a
// GPU or when the accelerator is not to be used.
func GPULayers(p device.Profile, useAccelerator bool) int {
	if !useAccelerator || !p.Has(device.CapGPU) {
		return 0
	}
	switch p.Class {
	case device.ClassFlagship, device.ClassHigh:
		return AllLayers
	case device.ClassMidRange:
		return 16
	default:
		return 8
	}
}
