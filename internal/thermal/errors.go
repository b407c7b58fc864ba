package thermal

import "codeberg.org/mutker/inferctl/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrorCode("thermal_invalid_config")
	ErrSensorRead     = errors.ErrSensorReadFailed
	ErrNoThermalZones = errors.ErrorCode("thermal_no_zones")
	ErrZoneReadFailed = errors.ErrorCode("thermal_zone_read_failed")
)
