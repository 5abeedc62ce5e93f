package engine

import (
	"errors"
	"fmt"

	"github.com/iml130/mf-plugin/internal/assign"
	"github.com/iml130/mf-plugin/internal/eval"
)

// RuntimeError is a failure attributed to one task run.
//
// Runtime errors include:
//   - Gate evaluation: a StartedBy/FinishedBy condition could not be evaluated
//   - Missing entity: a Move or Action order ran before any Transport
//   - Assignment: no entity or no pickup order satisfies the task
//   - Task call / hook failures and instance quota exhaustion
//
// Errors never abort sibling tasks. They finish the owning task run as
// failed and are attached to its record.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// TaskRun and Task identify the affected run.
	TaskRun string
	Task    string

	// Order is the statement index of the affected order, -1 if none.
	Order int

	// Step names the affected order step, if any.
	Step string

	// Err is the underlying cause (evaluation or assignment error).
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeGateEvaluation wraps an evaluation error raised by a gate.
	ErrCodeGateEvaluation RuntimeErrorCode = "GateEvaluationError"

	// ErrCodeNoAssignedEntity indicates a Move/Action with no prior Transport.
	ErrCodeNoAssignedEntity RuntimeErrorCode = "NoAssignedEntity"

	// ErrCodeInfeasible wraps assign.ErrCodeInfeasible.
	ErrCodeInfeasible RuntimeErrorCode = "InfeasibleConstraints"

	// ErrCodeNoEligibleEntity wraps assign.ErrCodeNoEligibleEntity.
	ErrCodeNoEligibleEntity RuntimeErrorCode = "NoEligibleEntity"

	// ErrCodeTaskCallFailed indicates a called task did not succeed.
	ErrCodeTaskCallFailed RuntimeErrorCode = "TaskCallFailed"

	// ErrCodeUnknownTask indicates an OnDone or call target is not declared.
	ErrCodeUnknownTask RuntimeErrorCode = "UnknownTask"

	// ErrCodeHookFailed indicates a statement hook failed or is missing.
	ErrCodeHookFailed RuntimeErrorCode = "HookFailed"

	// ErrCodeQuotaExceeded indicates the run spawned too many task instances.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QuotaExceeded"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s (task=%s, run=%s", e.Code, e.Message, e.Task, e.TaskRun)
	if e.Step != "" {
		msg += ", step=" + e.Step
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

// IsGateError reports whether err is a gate evaluation failure.
func IsGateError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeGateEvaluation
}

// IsQuotaError reports whether err is an instance quota failure.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeQuotaExceeded
}

// ErrorCode returns the most specific code in err's chain: a runtime code,
// else an evaluation code, else an assignment code.
func ErrorCode(err error) string {
	var re *RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	if c := eval.CodeOf(err); c != "" {
		return string(c)
	}
	var ae *assign.Error
	if errors.As(err, &ae) {
		return string(ae.Code)
	}
	return ""
}

// CauseCode returns the code of the innermost structured cause, e.g. the
// TypeMismatch behind a GateEvaluationError.
func CauseCode(err error) string {
	if c := eval.CodeOf(err); c != "" {
		return string(c)
	}
	var ae *assign.Error
	if errors.As(err, &ae) {
		return string(ae.Code)
	}
	return ErrorCode(err)
}
