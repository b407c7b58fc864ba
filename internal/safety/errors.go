package safety

import "codeberg.org/mutker/inferctl/internal/errors"

const (
	ErrInvalidPattern = errors.ErrorCode("safety_invalid_pattern")
)
