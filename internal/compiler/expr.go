package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/iml130/mf-plugin/internal/ir"
)

// parseExpr reads the expression encoding:
//
//	true, 3, "agv"                     literal
//	{ref: "event1.value"}              attribute access
//	{op: "==", left: E, right: E}      binary operator
//	{op: "!", x: E}                    unary operator
//	{call: "isWet", args: [E], named: {limit: E}}
func parseExpr(v cue.Value, field string) (ir.Expr, error) {
	if v.Kind() != cue.StructKind {
		if v.Kind() == cue.ListKind {
			return nil, &CompileError{Field: field, Message: "a list is not an expression", Pos: v.Pos()}
		}
		val, err := literal(v)
		if err != nil {
			return nil, err
		}
		return ir.Lit(val), nil
	}

	if s, ok, err := stringField(v, "ref"); ok || err != nil {
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, &CompileError{Field: field + ".ref", Message: "empty reference", Pos: v.Pos()}
		}
		return ir.Attr(s), nil
	}

	if rule, ok, err := stringField(v, "call"); ok || err != nil {
		if err != nil {
			return nil, err
		}
		return parseCall(v, rule, field)
	}

	op, ok, err := stringField(v, "op")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CompileError{Field: field, Message: "expression object needs ref, op or call", Pos: v.Pos()}
	}

	if xv := v.LookupPath(cue.ParsePath("x")); xv.Exists() {
		switch ir.UnaryOp(op) {
		case ir.OpNot, ir.OpNeg:
		default:
			return nil, &CompileError{Field: field + ".op", Message: fmt.Sprintf("unknown unary operator %q", op), Pos: v.Pos()}
		}
		x, err := parseExpr(xv, field+".x")
		if err != nil {
			return nil, err
		}
		return &ir.Unary{Op: ir.UnaryOp(op), X: x}, nil
	}

	if !ir.BinaryOps[ir.BinaryOp(op)] {
		return nil, &CompileError{Field: field + ".op", Message: fmt.Sprintf("unknown operator %q", op), Pos: v.Pos()}
	}
	lv := v.LookupPath(cue.ParsePath("left"))
	rv := v.LookupPath(cue.ParsePath("right"))
	if !lv.Exists() || !rv.Exists() {
		return nil, &CompileError{Field: field, Message: fmt.Sprintf("operator %s needs left and right", op), Pos: v.Pos()}
	}
	left, err := parseExpr(lv, field+".left")
	if err != nil {
		return nil, err
	}
	right, err := parseExpr(rv, field+".right")
	if err != nil {
		return nil, err
	}
	return ir.Cmp(ir.BinaryOp(op), left, right), nil
}

func parseCall(v cue.Value, rule, field string) (*ir.RuleCall, error) {
	call := &ir.RuleCall{Rule: rule}

	if av := v.LookupPath(cue.ParsePath("args")); av.Exists() {
		iter, err := av.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			arg, err := parseExpr(iter.Value(), fmt.Sprintf("%s.args[%d]", field, i))
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}
	}

	if nv := v.LookupPath(cue.ParsePath("named")); nv.Exists() {
		iter, err := nv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			name := iter.Label()
			arg, err := parseExpr(iter.Value(), field+".named."+name)
			if err != nil {
				return nil, err
			}
			call.Named = append(call.Named, ir.NamedArg{Name: name, Value: arg})
		}
	}
	return call, nil
}
