package calls

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("call not found")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMediaAccessDenied means the user refused capture permission.
	// Surfaced synchronously from Initiate/Answer; no record is created when
	// it happens during Initiate.
	ErrMediaAccessDenied = errors.New("media access denied")

	// ErrMediaUnavailable means the capture device failed.
	ErrMediaUnavailable = errors.New("media unavailable")

	// ErrCallInProgress means the user already has an active call attempt.
	// A second Initiate/Answer fails fast rather than replacing state.
	ErrCallInProgress = errors.New("call already in progress")
)

// StaleCallError reports an operation attempted against a call that is no
// longer in a valid state for it, e.g. answering a call that was already
// hung up. Receivers recover by dropping the operation.
type StaleCallError struct {
	CallID string
	State  SessionState
	Op     string
}

func (e *StaleCallError) Error() string {
	return fmt.Sprintf("call %s: %s not allowed in state %s", e.CallID, e.Op, e.State)
}

// IsStale reports whether err is (or wraps) a StaleCallError.
func IsStale(err error) bool {
	var sc *StaleCallError
	return errors.As(err, &sc)
}
