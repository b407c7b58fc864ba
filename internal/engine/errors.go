package engine

import "codeberg.org/mutker/inferctl/internal/errors"

const (
	ErrUnknownBackend = errors.ErrorCode("engine_unknown_backend")
	ErrEmptyPath      = errors.ErrorCode("engine_empty_model_path")
	ErrModelFreed     = errors.ErrorCode("engine_model_freed")
)
