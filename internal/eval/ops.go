package eval

import (
	"strings"

	"github.com/iml130/mf-plugin/internal/ir"
)

func (e *Evaluator) unary(n *ir.Unary, view InstanceView, f *frame) (ir.Value, error) {
	x, err := e.eval(n.X, view, f)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case ir.OpNot:
		b, ok := x.(ir.Bool)
		if !ok {
			return nil, mismatch(f, n, "operator ! needs bool, got %s", x.Kind())
		}
		return !b, nil
	case ir.OpNeg:
		num, ok := x.(ir.Number)
		if !ok {
			return nil, mismatch(f, n, "unary - needs number, got %s", x.Kind())
		}
		return -num, nil
	}
	return nil, mismatch(f, n, "unknown unary operator %q", n.Op)
}

func (e *Evaluator) binary(n *ir.Binary, view InstanceView, f *frame) (ir.Value, error) {
	left, err := e.eval(n.Left, view, f)
	if err != nil {
		return nil, err
	}

	// Logical operators short-circuit before the right side is evaluated.
	if n.Op == ir.OpAnd || n.Op == ir.OpOr {
		lb, ok := left.(ir.Bool)
		if !ok {
			return nil, mismatch(f, n, "operator %s needs bool operands, got %s", n.Op, left.Kind())
		}
		if (n.Op == ir.OpAnd && !lb) || (n.Op == ir.OpOr && lb) {
			return lb, nil
		}
		right, err := e.eval(n.Right, view, f)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(ir.Bool)
		if !ok {
			return nil, mismatch(f, n, "operator %s needs bool operands, got %s", n.Op, right.Kind())
		}
		return rb, nil
	}

	right, err := e.eval(n.Right, view, f)
	if err != nil {
		return nil, err
	}
	if left.Kind() != right.Kind() {
		return nil, mismatch(f, n, "cannot apply %s to %s and %s", n.Op, left.Kind(), right.Kind())
	}

	switch n.Op {
	case ir.OpEq:
		return ir.Bool(ir.Equal(left, right)), nil
	case ir.OpNe:
		return ir.Bool(!ir.Equal(left, right)), nil
	case ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		c, ok := compare(left, right)
		if !ok {
			return nil, mismatch(f, n, "operator %s is not defined on %s", n.Op, left.Kind())
		}
		switch n.Op {
		case ir.OpLt:
			return ir.Bool(c < 0), nil
		case ir.OpLe:
			return ir.Bool(c <= 0), nil
		case ir.OpGt:
			return ir.Bool(c > 0), nil
		default:
			return ir.Bool(c >= 0), nil
		}
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
		a, aok := left.(ir.Number)
		b, bok := right.(ir.Number)
		if !aok || !bok {
			return nil, mismatch(f, n, "operator %s needs numbers, got %s", n.Op, left.Kind())
		}
		switch n.Op {
		case ir.OpAdd:
			return a + b, nil
		case ir.OpSub:
			return a - b, nil
		case ir.OpMul:
			return a * b, nil
		default:
			if b == 0 {
				err := newError(ErrCodeDivisionByZero, f.ruleName(), "division by zero")
				err.Expr = ir.FormatExpr(n)
				return nil, err
			}
			return a / b, nil
		}
	}
	return nil, mismatch(f, n, "unknown operator %q", n.Op)
}

// compare orders numbers and strings; other kinds are unordered.
func compare(a, b ir.Value) (int, bool) {
	switch av := a.(type) {
	case ir.Number:
		bv := b.(ir.Number)
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case ir.String:
		return strings.Compare(string(av), string(b.(ir.String))), true
	}
	return 0, false
}

func mismatch(f *frame, expr ir.Expr, format string, args ...any) *Error {
	err := newError(ErrCodeTypeMismatch, f.ruleName(), format, args...)
	err.Expr = ir.FormatExpr(expr)
	return err
}
