package gpu

import (
	"math"
	"sync"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const milliWattsToWatts = 1000

type powerGovernor struct {
	device       nvmlDevice
	limits       PowerLimits
	currentLimit PowerLimit
	mu           sync.RWMutex
	logger       logger.Logger
}

func newPowerGovernor(dev nvmlDevice, log logger.Logger) (*powerGovernor, error) {
	errFactory := errors.New()
	pg := &powerGovernor{
		device: dev,
		logger: log,
	}

	minLimit, maxLimit, ret := dev.GetPowerManagementLimitConstraints()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}

	defaultLimit, ret := dev.GetPowerManagementDefaultLimit()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}

	pg.limits = PowerLimits{
		Min:     PowerLimit(minLimit / milliWattsToWatts),
		Max:     PowerLimit(maxLimit / milliWattsToWatts),
		Default: PowerLimit(defaultLimit / milliWattsToWatts),
	}

	currentLimit, ret := dev.GetPowerManagementLimit()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerLimitFailed, newNVMLError(ret))
	}
	pg.currentLimit = PowerLimit(currentLimit / milliWattsToWatts)

	return pg, nil
}

func (pg *powerGovernor) SetPowerFraction(fraction float64) error {
	errFactory := errors.New()
	if fraction <= 0 || fraction > 1 || math.IsNaN(fraction) {
		return errFactory.WithData(errors.ErrInvalidArgument, "power fraction must be in (0, 1]")
	}

	target := PowerLimit(math.Round(float64(pg.limits.Default) * fraction))
	return pg.setLimit(clampLimit(target, pg.limits))
}

func (pg *powerGovernor) setLimit(limit PowerLimit) error {
	errFactory := errors.New()
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if limit == pg.currentLimit {
		return nil
	}

	ret := pg.device.SetPowerManagementLimit(wattsToMilliWatts(limit))
	if !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrSetPowerLimit, newNVMLError(ret))
	}

	pg.logger.Debug().
		Int("from", int(pg.currentLimit)).
		Int("to", int(limit)).
		Msg("Power limit updated")
	pg.currentLimit = limit

	return nil
}

func (pg *powerGovernor) Limits() PowerLimits {
	return pg.limits
}

func (pg *powerGovernor) CurrentLimit() PowerLimit {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	limit, ret := pg.device.GetPowerManagementLimit()
	if !IsNVMLSuccess(ret) {
		pg.logger.Debug().Msgf("Failed to get power limit: %s", nvml.ErrorString(ret))
		return pg.currentLimit
	}

	return PowerLimit(limit / milliWattsToWatts)
}

func (pg *powerGovernor) ResetToDefault() error {
	return pg.setLimit(pg.limits.Default)
}

func clampLimit(limit PowerLimit, limits PowerLimits) PowerLimit {
	if limit < limits.Min {
		return limits.Min
	}
	if limit > limits.Max {
		return limits.Max
	}
	return limit
}

func wattsToMilliWatts(watts PowerLimit) uint32 {
	if watts <= 0 {
		return 0
	}

	const maxWatts = PowerLimit(math.MaxUint32 / milliWattsToWatts)
	if watts > maxWatts {
		return math.MaxUint32
	}

	result := watts * PowerLimit(milliWattsToWatts)

	//nolint:gosec // G115: Safe - bounds checked above
	return uint32(result)
}
