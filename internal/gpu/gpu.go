package gpu

import (
	"sync"

	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/logger"
)

// First compute capability (6.1) with DP4A integer dot products.
const (
	int8MinMajor = 6
	int8MinMinor = 1
)

// Device is an opened NVML accelerator.
type Device struct {
	nvml     nvmlController
	dev      nvmlDevice
	info     Info
	log      logger.Logger
	power    *powerGovernor
	powerErr error
	once     sync.Once
}

// Open initializes NVML and opens the device at index.
func Open(index int, log logger.Logger) (*Device, error) {
	return open(&nvmlWrapper{}, index, log)
}

func open(ctl nvmlController, index int, log logger.Logger) (*Device, error) {
	errFactory := errors.New()

	if err := ctl.Initialize(); err != nil {
		return nil, err
	}

	count, err := ctl.GetDeviceCount()
	if err != nil {
		_ = ctl.Shutdown()
		return nil, err
	}
	if count == 0 {
		_ = ctl.Shutdown()
		return nil, errFactory.New(ErrNoDevices)
	}
	if index < 0 || index >= count {
		_ = ctl.Shutdown()
		return nil, errFactory.WithData(ErrDeviceNotFound, index)
	}

	dev, err := ctl.GetDevice(index)
	if err != nil {
		_ = ctl.Shutdown()
		return nil, err
	}

	info, err := readInfo(dev, index)
	if err != nil {
		_ = ctl.Shutdown()
		return nil, err
	}

	log.Info().
		Str("name", info.Name).
		Int("compute_major", info.ComputeMajor).
		Int("compute_minor", info.ComputeMinor).
		Uint64("memory_mb", info.MemoryBytes>>20).
		Msg("Detected GPU")

	return &Device{nvml: ctl, dev: dev, info: info, log: log}, nil
}

func readInfo(dev nvmlDevice, index int) (Info, error) {
	errFactory := errors.New()
	info := Info{Index: index, Capabilities: device.CapGPU | device.CapFP16}

	name, ret := dev.GetName()
	if !IsNVMLSuccess(ret) {
		return Info{}, errFactory.Wrap(ErrDeviceInfoFailed, newNVMLError(ret))
	}
	info.Name = name

	if uuid, ret := dev.GetUUID(); IsNVMLSuccess(ret) {
		info.UUID = uuid
	}
	if mem, ret := dev.GetMemoryInfo(); IsNVMLSuccess(ret) {
		info.MemoryBytes = mem.Total
	}

	major, minor, ret := dev.GetCudaComputeCapability()
	if IsNVMLSuccess(ret) {
		info.ComputeMajor, info.ComputeMinor = major, minor
		if supportsINT8(major, minor) {
			info.Capabilities |= device.CapINT8
		}
	}

	return info, nil
}

func supportsINT8(major, minor int) bool {
	return major > int8MinMajor || (major == int8MinMajor && minor >= int8MinMinor)
}

func (d *Device) Info() Info { return d.info }

// TemperatureSensor returns a thermal.Sensor for this device.
func (d *Device) TemperatureSensor() *TemperatureSensor {
	return &TemperatureSensor{device: d.dev}
}

// PowerGovernor returns the device power governor. Boards that do not expose
// power management return an error.
func (d *Device) PowerGovernor() (PowerGovernor, error) {
	d.once.Do(func() {
		d.power, d.powerErr = newPowerGovernor(d.dev, d.log)
	})
	if d.powerErr != nil {
		return nil, d.powerErr
	}
	return d.power, nil
}

// Close restores the default power limit if it was changed, then shuts NVML down.
func (d *Device) Close() error {
	if d.power != nil {
		if err := d.power.ResetToDefault(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to restore default power limit")
		}
	}
	return d.nvml.Shutdown()
}
