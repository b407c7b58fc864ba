package gpu

import (
	"context"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/thermal"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// TemperatureSensor reads the GPU core temperature. The reading status is
// the clock throttle reason bitmask, zero when unavailable.
type TemperatureSensor struct {
	device nvmlDevice
}

var _ thermal.Sensor = (*TemperatureSensor)(nil)

func (s *TemperatureSensor) Read(ctx context.Context) (thermal.Reading, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return thermal.Reading{}, err
	}

	temp, ret := s.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return thermal.Reading{}, errFactory.Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}

	reasons, ret := s.device.GetCurrentClocksThrottleReasons()
	if !IsNVMLSuccess(ret) {
		reasons = 0
	}

	return thermal.Reading{Value: float64(temp), Status: reasons}, nil
}
