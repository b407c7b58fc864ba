package scheduler

import (
	"fmt"

	"codeberg.org/mutker/inferctl/internal/errors"
	"codeberg.org/mutker/inferctl/internal/metrics"
)

// Rejection reasons.
const (
	ReasonInvalidMode       = "invalid_mode"
	ReasonThermalCeiling    = "thermal_ceiling"
	ReasonTransitionPending = "transition_pending"
	ReasonThermalCritical   = "thermal_critical"
	ReasonBoostActive       = "boost_active"
	ReasonCooldown          = "cooldown"
	ReasonNoHeadroom        = "no_headroom"
)

// Rejection is the data carried by an errors.ErrRejected error.
type Rejection struct {
	Reason string
	Detail string
}

func (r Rejection) String() string {
	if r.Detail == "" {
		return r.Reason
	}
	return r.Reason + ": " + r.Detail
}

func reject(reason, format string, args ...any) error {
	metrics.IncRejection(reason)
	return errors.New().WithData(errors.ErrRejected, Rejection{
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	})
}

// RejectionReason extracts the reason from a policy rejection.
func RejectionReason(err error) (string, bool) {
	if !errors.HasCode(err, errors.ErrRejected) {
		return "", false
	}
	r, ok := errors.DataOf(err).(Rejection)
	if !ok {
		return "", false
	}
	return r.Reason, true
}
