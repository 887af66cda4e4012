package execution

import (
	"errors"
	"fmt"
)

// Gate failures. They come back wrapped in a *RejectError.
var (
	ErrInvalidOrder         = errors.New("invalid order")
	ErrAutoTradeDisabled    = errors.New("auto trade disabled")
	ErrDailyLossLimit       = errors.New("daily loss limit reached")
	ErrMaxPositions         = errors.New("max open positions reached")
	ErrInsufficientPosition = errors.New("sell exceeds held quantity")
)

// Operational failures.
var (
	ErrBrokerUnavailable = errors.New("broker session unavailable")
	ErrBrokerRejected    = errors.New("broker did not accept order")
	ErrRecordFailed      = errors.New("order record not persisted")
)

// RejectError is an intentional refusal by a gate. Nothing was booked.
type RejectError struct {
	Reason string
	Err    error
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("order rejected (%s): %v: %s", e.Reason, e.Err, e.Detail)
	}
	return fmt.Sprintf("order rejected (%s): %v", e.Reason, e.Err)
}

func (e *RejectError) Unwrap() error { return e.Err }

// IsRejection reports whether err is a gate refusal rather than a failure.
func IsRejection(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}

// RejectReason returns the gate label of a rejection, or "".
func RejectReason(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
