package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			switch ev.Type {
			case EventDispatch:
				fmt.Fprintf(&buf, "  [%d] seq %d dispatch %s (%s) to %s\n", i+1, ev.Seq, ev.Step, ev.TaskRun, ev.Entity)
			case EventFailure:
				fmt.Fprintf(&buf, "  [%d] seq %d failure %s %s\n", i+1, ev.Seq, ev.TaskRun, ev.Code)
			case EventFinished:
				fmt.Fprintf(&buf, "  [%d] seq %d finished %s %s\n", i+1, ev.Seq, ev.TaskRun, ev.Outcome)
			case EventUpdate:
				fmt.Fprintf(&buf, "  [%d] seq %d update %s.%s = %v\n", i+1, ev.Seq, ev.Instance, ev.Field, ev.Value)
			}
		}
	}
	return buf.String()
}

// AssertionContext provides store access for assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	RunID string
}

// EvaluateAssertions evaluates all assertions against the recorded run.
// Returns a message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertDispatchOrder:
			err = assertDispatchOrder(actx, result, a)
		case AssertTaskOutcome:
			err = assertTaskOutcome(actx, result, a)
		case AssertErrorCode:
			err = assertErrorCode(actx, result, a)
		case AssertStepState:
			err = assertStepState(result, a)
		case AssertAssignee:
			err = assertAssignee(actx, result, a)
		case AssertAllFinished:
			err = assertAllFinished(result)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertDispatchOrder checks that the steps were dispatched in the given
// relative order. Other dispatches may come in between.
func assertDispatchOrder(actx *AssertionContext, result *Result, a Assertion) error {
	dispatches, err := actx.Store.ReadDispatches(actx.Ctx, actx.RunID)
	if err != nil {
		return err
	}
	var got []string
	for _, d := range dispatches {
		if a.Task == "" || d.Task == a.Task {
			got = append(got, d.Step)
		}
	}

	next := 0
	for _, step := range got {
		if next < len(a.Steps) && step == a.Steps[next] {
			next++
		}
	}
	if next < len(a.Steps) {
		return &AssertionError{
			Type:     AssertDispatchOrder,
			Expected: fmt.Sprintf("steps dispatched in order: %v", a.Steps),
			Actual:   fmt.Sprintf("dispatched %v, %s missing or out of order", got, a.Steps[next]),
			Trace:    result.Trace,
		}
	}
	return nil
}

func outcomeOf(actx *AssertionContext, task string) (*store.Outcome, error) {
	outcomes, err := actx.Store.ReadOutcomes(actx.Ctx, actx.RunID)
	if err != nil {
		return nil, err
	}
	for i := range outcomes {
		if outcomes[i].Task == task {
			return &outcomes[i], nil
		}
	}
	return nil, nil
}

// assertTaskOutcome checks the first finished run of a task.
func assertTaskOutcome(actx *AssertionContext, result *Result, a Assertion) error {
	o, err := outcomeOf(actx, a.Task)
	if err != nil {
		return err
	}
	if o == nil {
		return &AssertionError{
			Type:     AssertTaskOutcome,
			Expected: fmt.Sprintf("task %s finished %s", a.Task, a.Outcome),
			Actual:   "task never finished",
			Trace:    result.Trace,
		}
	}
	if string(o.Outcome) != a.Outcome {
		return &AssertionError{
			Type:     AssertTaskOutcome,
			Expected: fmt.Sprintf("task %s finished %s", a.Task, a.Outcome),
			Actual:   fmt.Sprintf("%s finished %s %s", o.TaskRun, o.Outcome, o.Message),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertErrorCode checks the error codes of the first finished run of a
// task.
func assertErrorCode(actx *AssertionContext, result *Result, a Assertion) error {
	o, err := outcomeOf(actx, a.Task)
	if err != nil {
		return err
	}
	want := a.Code
	if a.Cause != "" {
		want += "/" + a.Cause
	}
	if o == nil {
		return &AssertionError{
			Type:     AssertErrorCode,
			Expected: fmt.Sprintf("task %s failed with %s", a.Task, want),
			Actual:   "task never finished",
			Trace:    result.Trace,
		}
	}
	if o.Code != a.Code || (a.Cause != "" && o.Cause != a.Cause) {
		got := o.Code
		if o.Cause != "" {
			got += "/" + o.Cause
		}
		return &AssertionError{
			Type:     AssertErrorCode,
			Expected: fmt.Sprintf("task %s failed with %s", a.Task, want),
			Actual:   fmt.Sprintf("%s finished %s with %q", o.TaskRun, o.Outcome, got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertStepState checks the state of the named step in the most recent
// task run that has it.
func assertStepState(result *Result, a Assertion) error {
	var (
		found bool
		state engine.StepState
		owner string
	)
	for _, rec := range result.Records {
		if a.Task != "" && rec.Task != a.Task {
			continue
		}
		for _, o := range rec.Orders {
			for _, s := range o.Steps {
				if s.Step == a.Step {
					found, state, owner = true, s.State, rec.ID
				}
			}
		}
	}
	if !found {
		return &AssertionError{
			Type:     AssertStepState,
			Expected: fmt.Sprintf("step %s in state %s", a.Step, a.State),
			Actual:   "no task run has this step",
		}
	}
	if string(state) != a.State {
		return &AssertionError{
			Type:     AssertStepState,
			Expected: fmt.Sprintf("step %s in state %s", a.Step, a.State),
			Actual:   fmt.Sprintf("%s of %s is %s", a.Step, owner, state),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertAssignee checks that every dispatch of the step went to entity.
func assertAssignee(actx *AssertionContext, result *Result, a Assertion) error {
	dispatches, err := actx.Store.ReadDispatches(actx.Ctx, actx.RunID)
	if err != nil {
		return err
	}
	seen := false
	for _, d := range dispatches {
		if d.Step != a.Step || (a.Task != "" && d.Task != a.Task) {
			continue
		}
		seen = true
		if d.Assignee != a.Entity {
			return &AssertionError{
				Type:     AssertAssignee,
				Expected: fmt.Sprintf("step %s assigned to %s", a.Step, a.Entity),
				Actual:   fmt.Sprintf("%s assigned to %s", d.StepRun, d.Assignee),
				Trace:    result.Trace,
			}
		}
	}
	if !seen {
		return &AssertionError{
			Type:     AssertAssignee,
			Expected: fmt.Sprintf("step %s assigned to %s", a.Step, a.Entity),
			Actual:   "step was never dispatched",
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertAllFinished(result *Result) error {
	for _, rec := range result.Records {
		if rec.State != engine.TaskFinished {
			return &AssertionError{
				Type:     AssertAllFinished,
				Expected: "every task run finished",
				Actual:   fmt.Sprintf("%s (%s) is %s", rec.ID, rec.Task, rec.State),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}
