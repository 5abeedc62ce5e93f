package assign

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes assignment failures.
type ErrorCode string

const (
	// ErrCodeInfeasible indicates no pickup ordering satisfies the constraints.
	ErrCodeInfeasible ErrorCode = "InfeasibleConstraints"

	// ErrCodeNoEligibleEntity indicates no entity can serve the order.
	ErrCodeNoEligibleEntity ErrorCode = "NoEligibleEntity"
)

// Error is a structured assignment failure.
//
// Retryable is set when the inputs that caused the failure can plausibly
// change on a later tick (a committed entity frees up, a pending gate's
// wait estimate drops out, a constraint reads Now).
type Error struct {
	Code      ErrorCode
	Order     string
	Message   string
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Order != "" {
		return fmt.Sprintf("%s: %s (order=%s)", e.Code, e.Message, e.Order)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInfeasible reports whether err is an InfeasibleConstraints failure.
func IsInfeasible(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == ErrCodeInfeasible
}

// IsNoEligibleEntity reports whether err is a NoEligibleEntity failure.
func IsNoEligibleEntity(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == ErrCodeNoEligibleEntity
}

// IsRetryable reports whether err is an assignment failure worth retrying.
func IsRetryable(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Retryable
}
