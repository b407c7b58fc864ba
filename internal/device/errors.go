package device

import "codeberg.org/mutker/inferctl/internal/errors"

const (
	ErrStatReadFailed    = errors.ErrorCode("device_stat_read_failed")
	ErrMeminfoReadFailed = errors.ErrorCode("device_meminfo_read_failed")
	ErrProcfsUnavailable = errors.ErrorCode("device_procfs_unavailable")
)
