package eval

import (
	"github.com/iml130/mf-plugin/internal/ir"
)

// NamedValue is an evaluated name = value argument.
type NamedValue struct {
	Name  string
	Value ir.Value
}

// bind maps argument values onto a rule's parameters.
//
// Positional arguments fill parameters left to right. Named arguments then
// override by name; a name the rule does not declare is UnknownParameter.
// Remaining parameters take their declared default, evaluated without any
// caller parameters in scope. A parameter still unbound is ArityMismatch.
func (e *Evaluator) bind(rule *ir.Rule, args []ir.Value, named []NamedValue, view InstanceView, depth int) (map[string]ir.Value, error) {
	if len(args) > len(rule.Params) {
		return nil, newError(ErrCodeArityMismatch, rule.Name,
			"got %d positional arguments, rule declares %d parameters", len(args), len(rule.Params))
	}

	bound := make(map[string]ir.Value, len(rule.Params))
	for i, v := range args {
		bound[rule.Params[i].Name] = v
	}

	for _, nv := range named {
		if rule.ParamIndex(nv.Name) < 0 {
			return nil, newError(ErrCodeUnknownParameter, rule.Name, "unknown parameter %q", nv.Name)
		}
		bound[nv.Name] = nv.Value
	}

	// Defaults see the rule name for diagnostics and inherit the call depth
	// so a default that calls a rule still counts toward the limit.
	defaults := &frame{rule: rule.Name, params: map[string]ir.Value{}, depth: depth}
	for _, p := range rule.Params {
		if _, ok := bound[p.Name]; ok {
			continue
		}
		if p.Default == nil {
			return nil, newError(ErrCodeArityMismatch, rule.Name, "parameter %q has no argument and no default", p.Name)
		}
		v, err := e.eval(p.Default, view, defaults)
		if err != nil {
			return nil, err
		}
		bound[p.Name] = v
	}
	return bound, nil
}
