package eval

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes evaluation failures.
type ErrorCode string

const (
	// ErrCodeArityMismatch indicates too many positional arguments or a
	// required parameter left unbound after defaults.
	ErrCodeArityMismatch ErrorCode = "ArityMismatch"

	// ErrCodeUnknownParameter indicates a named argument the rule does not declare.
	ErrCodeUnknownParameter ErrorCode = "UnknownParameter"

	// ErrCodeUnresolvedReference indicates an undeclared instance, attribute or rule.
	ErrCodeUnresolvedReference ErrorCode = "UnresolvedReference"

	// ErrCodeTypeMismatch indicates operands of incompatible kinds or a
	// non-boolean where a condition was required.
	ErrCodeTypeMismatch ErrorCode = "TypeMismatch"

	// ErrCodeRecursionLimit indicates nested rule calls exceeded the depth limit.
	ErrCodeRecursionLimit ErrorCode = "RuleRecursionLimitExceeded"

	// ErrCodeDivisionByZero indicates a division with a zero divisor.
	ErrCodeDivisionByZero ErrorCode = "DivisionByZero"
)

// Error is a structured evaluation failure.
type Error struct {
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Rule is the innermost rule being evaluated, empty at top level.
	Rule string

	// Expr is the rendered expression that failed.
	Expr string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Rule != "" && e.Expr != "":
		return fmt.Sprintf("%s: %s (rule=%s, expr=%s)", e.Code, e.Message, e.Rule, e.Expr)
	case e.Rule != "":
		return fmt.Sprintf("%s: %s (rule=%s)", e.Code, e.Message, e.Rule)
	case e.Expr != "":
		return fmt.Sprintf("%s: %s (expr=%s)", e.Code, e.Message, e.Expr)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsCode reports whether err carries the given evaluation code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func newError(code ErrorCode, rule string, format string, args ...any) *Error {
	return &Error{Code: code, Rule: rule, Message: fmt.Sprintf(format, args...)}
}
