package eval

import (
	"github.com/iml130/mf-plugin/internal/ir"
)

// DefaultMaxDepth bounds nested rule calls.
const DefaultMaxDepth = 64

// InstanceView is the read-only instance state an evaluation runs against.
// The engine passes one view per tick so every poll sees the same values.
type InstanceView interface {
	Instance(name string) (*ir.StructInstance, bool)
}

// MapView adapts a plain map to InstanceView.
type MapView map[string]*ir.StructInstance

// Instance implements InstanceView.
func (m MapView) Instance(name string) (*ir.StructInstance, bool) {
	si, ok := m[name]
	return si, ok
}

// Evaluator evaluates expressions against a fixed rule set.
//
// Thread-safety: an Evaluator holds no per-call state and may be shared.
type Evaluator struct {
	rules    map[string]*ir.Rule
	maxDepth int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaxDepth overrides DefaultMaxDepth. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// New creates an evaluator over the program's rules.
func New(rules map[string]*ir.Rule, opts ...Option) *Evaluator {
	e := &Evaluator{
		rules:    rules,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxDepth returns the configured call depth limit.
func (e *Evaluator) MaxDepth() int {
	return e.maxDepth
}

// frame is the parameter scope of one rule invocation.
type frame struct {
	rule   string
	params map[string]ir.Value
	depth  int
}

func (f *frame) ruleName() string {
	if f == nil {
		return ""
	}
	return f.rule
}

func (f *frame) lookup(name string) (ir.Value, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f.params[name]
	return v, ok
}

func (f *frame) nextDepth() int {
	if f == nil {
		return 1
	}
	return f.depth + 1
}

// Eval evaluates an expression at top level (no parameters in scope).
func (e *Evaluator) Eval(expr ir.Expr, view InstanceView) (ir.Value, error) {
	return e.eval(expr, view, nil)
}

// Truth evaluates a condition and requires a boolean result.
func (e *Evaluator) Truth(expr ir.Expr, view InstanceView) (bool, error) {
	v, err := e.eval(expr, view, nil)
	if err != nil {
		return false, err
	}
	b, ok := v.(ir.Bool)
	if !ok {
		err := newError(ErrCodeTypeMismatch, "", "condition evaluated to %s, want bool", v.Kind())
		err.Expr = ir.FormatExpr(expr)
		return false, err
	}
	return bool(b), nil
}

// EvaluateRule evaluates a rule call at top level.
func (e *Evaluator) EvaluateRule(call *ir.RuleCall, view InstanceView) (bool, error) {
	v, err := e.call(call, view, nil)
	if err != nil {
		return false, err
	}
	return bool(v), nil
}

func (e *Evaluator) eval(expr ir.Expr, view InstanceView, f *frame) (ir.Value, error) {
	switch n := expr.(type) {
	case *ir.Literal:
		if n.Value == nil {
			return nil, newError(ErrCodeTypeMismatch, f.ruleName(), "literal without value")
		}
		return n.Value, nil
	case *ir.AttrRef:
		return e.resolve(n, view, f)
	case *ir.Unary:
		return e.unary(n, view, f)
	case *ir.Binary:
		return e.binary(n, view, f)
	case *ir.RuleCall:
		b, err := e.call(n, view, f)
		if err != nil {
			return nil, err
		}
		return b, nil
	case nil:
		return nil, newError(ErrCodeTypeMismatch, f.ruleName(), "missing expression")
	default:
		return nil, newError(ErrCodeTypeMismatch, f.ruleName(), "unsupported expression %T", expr)
	}
}

// resolve walks an attribute path. The head names a parameter of the
// current rule or, failing that, a struct instance; each further segment
// reads a field of the instance (or object) reached so far.
func (e *Evaluator) resolve(ref *ir.AttrRef, view InstanceView, f *frame) (ir.Value, error) {
	if len(ref.Path) == 0 {
		return nil, newError(ErrCodeUnresolvedReference, f.ruleName(), "empty attribute path")
	}

	head := ref.Path[0]
	cur, ok := f.lookup(head)
	if !ok {
		if _, found := view.Instance(head); !found {
			err := newError(ErrCodeUnresolvedReference, f.ruleName(), "unknown instance or parameter %q", head)
			err.Expr = ref.String()
			return nil, err
		}
		cur = ir.Ref(head)
	}

	for _, field := range ref.Path[1:] {
		switch c := cur.(type) {
		case ir.Ref:
			inst, found := view.Instance(string(c))
			if !found {
				err := newError(ErrCodeUnresolvedReference, f.ruleName(), "unknown instance %q", string(c))
				err.Expr = ref.String()
				return nil, err
			}
			v, found := inst.Get(field)
			if !found {
				err := newError(ErrCodeUnresolvedReference, f.ruleName(), "%s %q has no attribute %q", inst.Struct, inst.Name, field)
				err.Expr = ref.String()
				return nil, err
			}
			cur = v
		case ir.Object:
			v, found := c[field]
			if !found {
				err := newError(ErrCodeUnresolvedReference, f.ruleName(), "object has no attribute %q", field)
				err.Expr = ref.String()
				return nil, err
			}
			cur = v
		default:
			err := newError(ErrCodeTypeMismatch, f.ruleName(), "cannot read attribute %q of %s", field, cur.Kind())
			err.Expr = ref.String()
			return nil, err
		}
	}
	return cur, nil
}

// call binds arguments and evaluates the rule body as an implicit AND.
func (e *Evaluator) call(call *ir.RuleCall, view InstanceView, caller *frame) (ir.Bool, error) {
	depth := caller.nextDepth()
	if depth > e.maxDepth {
		return false, newError(ErrCodeRecursionLimit, call.Rule,
			"rule call depth %d exceeds limit %d", depth, e.maxDepth)
	}

	rule, ok := e.rules[call.Rule]
	if !ok {
		return false, newError(ErrCodeUnresolvedReference, caller.ruleName(), "unknown rule %q", call.Rule)
	}

	args := make([]ir.Value, len(call.Args))
	for i, a := range call.Args {
		v, err := e.eval(a, view, caller)
		if err != nil {
			return false, err
		}
		args[i] = v
	}
	named := make([]NamedValue, len(call.Named))
	for i, a := range call.Named {
		v, err := e.eval(a.Value, view, caller)
		if err != nil {
			return false, err
		}
		named[i] = NamedValue{Name: a.Name, Value: v}
	}

	params, err := e.bind(rule, args, named, view, depth)
	if err != nil {
		return false, err
	}

	f := &frame{rule: rule.Name, params: params, depth: depth}
	for _, expr := range rule.Body {
		v, err := e.eval(expr, view, f)
		if err != nil {
			return false, err
		}
		b, ok := v.(ir.Bool)
		if !ok {
			err := newError(ErrCodeTypeMismatch, rule.Name, "body expression evaluated to %s, want bool", v.Kind())
			err.Expr = ir.FormatExpr(expr)
			return false, err
		}
		if !b {
			return false, nil
		}
	}
	return true, nil
}
