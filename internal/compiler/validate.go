package compiler

import (
	"fmt"
	"sort"

	"github.com/iml130/mf-plugin/internal/assign"
	"github.com/iml130/mf-plugin/internal/ir"
	"github.com/iml130/mf-plugin/internal/timer"
)

// Validation error codes (E200-E299)
const (
	ErrNoEntryTask         = "E200" // entry task not declared
	ErrUnknownTask         = "E201" // call or onDone names no task
	ErrUnknownStep         = "E202" // order names no step
	ErrUnknownRule         = "E203" // rule call names no rule
	ErrUnresolvedReference = "E204" // ref head is neither a parameter nor an instance
	ErrNotALocation        = "E205" // step location is not a Location instance
	ErrActionNoParameters  = "E206" // action step without parameters
	ErrTransportIncomplete = "E207" // transport without pickups or delivery
	ErrStepKindMismatch    = "E208" // order kind differs from the step kind
	ErrNoAssignedEntity    = "E209" // move/action before any transport
	ErrRuleArity           = "E210" // call leaves a parameter unbound
	ErrUnknownParameter    = "E211" // named argument matches no parameter
	ErrTaskNoStatements    = "E212" // task has nothing to do
	ErrInstanceField       = "E213" // undeclared struct or mistyped field
	ErrInvalidTiming       = "E214" // Time timing is not a cron expression
	ErrInvalidConstraints  = "E215" // constraints do not compile
	ErrDuplicateParameter  = "E216" // rule declares a parameter twice
	ErrStepNoLocation      = "E217" // transport/move step without location
	ErrDuplicateStop       = "E218" // transport visits the same step twice
)

// ValidationError represents a static program error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks cross references and static typing of a compiled
// program. Returns all errors found (does not fail-fast), ordered by
// field.
func Validate(p *ir.Program) []ValidationError {
	v := &validator{p: p}

	if _, ok := p.EntryTask(); !ok {
		v.add("entry", ErrNoEntryTask, "entry task %q is not declared", p.Entry)
	}
	for _, name := range p.InstanceOrder {
		v.instance(p.Instances[name])
	}
	for _, name := range sortedKeys(p.Rules) {
		v.rule(p.Rules[name])
	}
	for _, name := range sortedKeys(p.Steps) {
		v.step(p.Steps[name])
	}
	for _, name := range p.TaskOrder {
		v.task(p.Tasks[name])
	}

	sort.SliceStable(v.errs, func(i, j int) bool { return v.errs[i].Field < v.errs[j].Field })
	return v.errs
}

type validator struct {
	p    *ir.Program
	errs []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) instance(si *ir.StructInstance) {
	field := "instances." + si.Name
	decl, ok := v.p.Structs[si.Struct]
	if !ok {
		v.add(field, ErrInstanceField, "struct %q is not declared", si.Struct)
		return
	}
	for _, f := range si.Fields.SortedKeys() {
		if err := ir.CheckAssignable(decl, f, si.Fields[f]); err != nil {
			v.add(field+"."+f, ErrInstanceField, "%v", err)
		}
	}
	if si.Struct == ir.StructTime {
		if timing, ok := si.Fields[ir.FieldTiming].(ir.String); ok && timing != "" {
			if _, err := timer.Parse(string(timing)); err != nil {
				v.add(field+".timing", ErrInvalidTiming, "%v", err)
			}
		}
	}
}

func (v *validator) rule(r *ir.Rule) {
	field := "rules." + r.Name
	params := map[string]bool{}
	for _, prm := range r.Params {
		if params[prm.Name] {
			v.add(field+".params", ErrDuplicateParameter, "parameter %q declared twice", prm.Name)
		}
		params[prm.Name] = true
	}
	for i, prm := range r.Params {
		if prm.Default != nil {
			// defaults are evaluated in the caller's scope
			v.expr(fmt.Sprintf("%s.params[%d].default", field, i), prm.Default, nil)
		}
	}
	for i, e := range r.Body {
		v.expr(fmt.Sprintf("%s.body[%d]", field, i), e, params)
	}
}

func (v *validator) step(s *ir.OrderStep) {
	field := "steps." + s.Name
	switch s.Kind {
	case ir.StepTransport, ir.StepMove:
		if s.Location == "" {
			v.add(field+".location", ErrStepNoLocation, "%s step needs a location", s.Kind)
		}
	case ir.StepAction:
		if s.Parameters == nil {
			v.add(field+".parameters", ErrActionNoParameters, "action step needs parameters")
		}
	}
	if s.Location != "" {
		si, ok := v.p.Instances[s.Location]
		if !ok || si.Struct != ir.StructLocation {
			v.add(field+".location", ErrNotALocation, "%q is not a Location instance", s.Location)
		}
	}
	if s.OnDone != "" {
		if _, ok := v.p.Tasks[s.OnDone]; !ok {
			v.add(field+".onDone", ErrUnknownTask, "task %q is not declared", s.OnDone)
		}
	}
	v.expr(field+".startedBy", s.StartedBy, nil)
	v.expr(field+".finishedBy", s.FinishedBy, nil)
}

func (v *validator) task(t *ir.Task) {
	field := "tasks." + t.Name
	if len(t.Statements) == 0 {
		v.add(field+".statements", ErrTaskNoStatements, "task has no statements")
	}
	v.expr(field+".startedBy", t.StartedBy, nil)
	v.expr(field+".finishedBy", t.FinishedBy, nil)
	if t.Constraints != nil {
		if _, err := assign.Compile(t.Constraints); err != nil {
			v.add(field+".constraints", ErrInvalidConstraints, "%v", err)
		}
	}

	transported := false
	for i, stmt := range t.Statements {
		sf := fmt.Sprintf("%s.statements[%d]", field, i)
		switch s := stmt.(type) {
		case *ir.TransportOrder:
			if len(s.From) == 0 || s.To == "" {
				v.add(sf, ErrTransportIncomplete, "transport needs from and to")
			}
			seen := make(map[string]bool, len(s.From))
			for _, name := range s.From {
				v.orderStep(sf+".from", name, ir.StepTransport)
				if seen[name] {
					v.add(sf+".from", ErrDuplicateStop, "pickup %s is listed twice", name)
				}
				seen[name] = true
			}
			if seen[s.To] {
				v.add(sf+".to", ErrDuplicateStop, "delivery %s is also a pickup", s.To)
			}
			if s.To != "" {
				v.orderStep(sf+".to", s.To, ir.StepTransport)
			}
			transported = true
		case *ir.MoveOrder:
			v.orderStep(sf+".move", s.Step, ir.StepMove)
			if !transported {
				v.add(sf, ErrNoAssignedEntity, "move %s has no preceding transport", s.Step)
			}
		case *ir.ActionOrder:
			v.orderStep(sf+".action", s.Step, ir.StepAction)
			if !transported {
				v.add(sf, ErrNoAssignedEntity, "action %s has no preceding transport", s.Step)
			}
		case *ir.TaskCall:
			if _, ok := v.p.Tasks[s.Task]; !ok {
				v.add(sf+".call", ErrUnknownTask, "task %q is not declared", s.Task)
			}
		}
	}
}

func (v *validator) orderStep(field, name string, kind ir.StepKind) {
	s, ok := v.p.Steps[name]
	if !ok {
		v.add(field, ErrUnknownStep, "step %q is not declared", name)
		return
	}
	if s.Kind != kind {
		v.add(field, ErrStepKindMismatch, "step %s is a %s step, not %s", name, s.Kind, kind)
	}
}

// expr checks references and rule calls. params is the scope of a rule
// body; nil outside rules.
func (v *validator) expr(field string, e ir.Expr, params map[string]bool) {
	if e == nil {
		return
	}
	ir.WalkExpr(e, func(n ir.Expr) bool {
		switch n := n.(type) {
		case *ir.AttrRef:
			v.ref(field, n, params)
		case *ir.RuleCall:
			v.call(field, n)
		}
		return true
	})
}

func (v *validator) ref(field string, ref *ir.AttrRef, params map[string]bool) {
	head := ref.Path[0]
	if params[head] {
		return
	}
	si, ok := v.p.Instances[head]
	if !ok {
		v.add(field, ErrUnresolvedReference, "%s: %q is neither a parameter nor an instance", ref, head)
		return
	}
	if len(ref.Path) < 2 {
		return
	}
	decl, ok := v.p.Structs[si.Struct]
	if !ok {
		return
	}
	if _, ok := decl.FieldKind(ref.Path[1]); !ok {
		v.add(field, ErrUnresolvedReference, "%s: struct %s has no field %q", ref, si.Struct, ref.Path[1])
	}
}

func (v *validator) call(field string, call *ir.RuleCall) {
	rule, ok := v.p.Rules[call.Rule]
	if !ok {
		v.add(field, ErrUnknownRule, "rule %q is not declared", call.Rule)
		return
	}
	if len(call.Args) > len(rule.Params) {
		v.add(field, ErrRuleArity, "%s takes %d arguments, got %d", call.Rule, len(rule.Params), len(call.Args))
		return
	}
	bound := make([]bool, len(rule.Params))
	for i := range call.Args {
		bound[i] = true
	}
	for _, na := range call.Named {
		i := rule.ParamIndex(na.Name)
		if i < 0 {
			v.add(field, ErrUnknownParameter, "%s has no parameter %q", call.Rule, na.Name)
			continue
		}
		bound[i] = true
	}
	for i, prm := range rule.Params {
		if !bound[i] && prm.Default == nil {
			v.add(field, ErrRuleArity, "%s: parameter %q is not bound", call.Rule, prm.Name)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
