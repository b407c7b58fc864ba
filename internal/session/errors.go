package session

import (
	"fmt"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/metrics"
	"codeberg.org/mutker/inferctl/internal/scheduler"
)

const (
	ErrInvalidConfig = errors.ErrorCode("session_invalid_config")
	ErrStreamClosed  = errors.ErrorCode("session_stream_closed")
)

// Rejection reasons.
const (
	ReasonModelLoaded    = "model_loaded"
	ReasonLoadInProgress = "load_in_progress"
	ReasonSessionExists  = "session_exists"
	ReasonSessionBusy    = "session_busy"
)

func reject(reason, format string, args ...any) error {
	metrics.IncRejection(reason)
	return errors.New().WithData(errors.ErrRejected, scheduler.Rejection{
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	})
}
