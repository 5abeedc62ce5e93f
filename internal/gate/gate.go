// Package gate implements latched condition gates for StartedBy and
// FinishedBy clauses.
//
// A gate is polled once per tick. The first poll that sees its condition
// true latches it; from then on Poll returns Satisfied without evaluating
// again, even if the underlying values change back.
package gate

import (
	"fmt"

	"github.com/iml130/mf-plugin/internal/eval"
	"github.com/iml130/mf-plugin/internal/ir"
)

// Kind identifies which clause a gate guards.
type Kind string

const (
	StartedBy  Kind = "StartedBy"
	FinishedBy Kind = "FinishedBy"
)

// Status is the result of a poll.
type Status int

const (
	Pending Status = iota
	Satisfied
)

// String implements fmt.Stringer.
func (s Status) String() string {
	if s == Satisfied {
		return "satisfied"
	}
	return "pending"
}

// Gate is an edge-triggered latch over a condition expression.
// A nil condition is satisfied on the first poll.
type Gate struct {
	kind    Kind
	owner   string
	cond    ir.Expr
	latched bool
}

// New creates a gate. owner names the task or step the gate belongs to
// and only appears in errors.
func New(kind Kind, owner string, cond ir.Expr) *Gate {
	return &Gate{kind: kind, owner: owner, cond: cond}
}

// Restore creates a gate in a known latch state (snapshot restore).
func Restore(kind Kind, owner string, cond ir.Expr, latched bool) *Gate {
	return &Gate{kind: kind, owner: owner, cond: cond, latched: latched}
}

// Poll evaluates the condition unless already latched.
// Evaluation errors leave the gate unlatched and are returned wrapped in
// *Error so callers can attribute them.
func (g *Gate) Poll(ev *eval.Evaluator, view eval.InstanceView) (Status, error) {
	if g.latched {
		return Satisfied, nil
	}
	if g.cond == nil {
		g.latched = true
		return Satisfied, nil
	}

	ok, err := ev.Truth(g.cond, view)
	if err != nil {
		return Pending, &Error{Kind: g.kind, Owner: g.owner, Cond: ir.FormatExpr(g.cond), Err: err}
	}
	if !ok {
		return Pending, nil
	}
	g.latched = true
	return Satisfied, nil
}

// Peek reports whether the gate would be satisfied now, without latching.
// Evaluation errors count as not satisfied; Poll reports them.
func (g *Gate) Peek(ev *eval.Evaluator, view eval.InstanceView) bool {
	if g.latched || g.cond == nil {
		return true
	}
	ok, err := ev.Truth(g.cond, view)
	return err == nil && ok
}

// Satisfied reports whether the gate has latched.
func (g *Gate) Satisfied() bool { return g.latched }

// Kind returns the clause kind.
func (g *Gate) Kind() Kind { return g.kind }

// HasCondition reports whether the gate guards anything.
func (g *Gate) HasCondition() bool { return g.cond != nil }

// Error attributes an evaluation failure to a gate.
type Error struct {
	Kind  Kind
	Owner string
	Cond  string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s gate of %s (%s): %v", e.Kind, e.Owner, e.Cond, e.Err)
}

// Unwrap exposes the evaluation error.
func (e *Error) Unwrap() error { return e.Err }
