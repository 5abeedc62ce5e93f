package ir

import (
	"strings"
)

// Expr is a sealed interface over condition expression nodes:
// Literal, AttrRef, Unary, Binary and RuleCall.
type Expr interface {
	exprNode()
}

// Literal is a constant value.
type Literal struct {
	Value Value
}

// AttrRef is an attribute access path such as event1.value.
// A single-element path names a rule parameter or a struct instance.
type AttrRef struct {
	Path []string
}

// UnaryOp is a prefix operator.
type UnaryOp string

const (
	OpNot UnaryOp = "!"
	OpNeg UnaryOp = "-"
)

// Unary applies a prefix operator.
type Unary struct {
	Op UnaryOp
	X  Expr
}

// BinaryOp is an infix operator.
type BinaryOp string

const (
	OpEq  BinaryOp = "=="
	OpNe  BinaryOp = "!="
	OpLt  BinaryOp = "<"
	OpLe  BinaryOp = "<="
	OpGt  BinaryOp = ">"
	OpGe  BinaryOp = ">="
	OpAnd BinaryOp = "&&"
	OpOr  BinaryOp = "||"
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"
)

// BinaryOps lists every supported infix operator.
var BinaryOps = map[BinaryOp]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
	OpAnd: true, OpOr: true, OpAdd: true, OpSub: true, OpMul: true, OpDiv: true,
}

// Binary applies an infix operator.
type Binary struct {
	Op          BinaryOp
	Left, Right Expr
}

// NamedArg is a name = value argument of a rule call.
type NamedArg struct {
	Name  string
	Value Expr
}

// RuleCall invokes a rule with positional and named arguments.
// Named arguments keep their source order for diagnostics.
type RuleCall struct {
	Rule  string
	Args  []Expr
	Named []NamedArg
}

func (*Literal) exprNode()  {}
func (*AttrRef) exprNode()  {}
func (*Unary) exprNode()    {}
func (*Binary) exprNode()   {}
func (*RuleCall) exprNode() {}

// Lit wraps a value as a literal expression.
func Lit(v Value) *Literal { return &Literal{Value: v} }

// Attr builds an attribute reference from a dotted path ("event1.value").
func Attr(path string) *AttrRef { return &AttrRef{Path: strings.Split(path, ".")} }

// Call builds a rule call with positional arguments.
func Call(rule string, args ...Expr) *RuleCall { return &RuleCall{Rule: rule, Args: args} }

// Cmp builds a binary expression.
func Cmp(op BinaryOp, left, right Expr) *Binary { return &Binary{Op: op, Left: left, Right: right} }

// Not negates a boolean expression.
func Not(x Expr) *Unary { return &Unary{Op: OpNot, X: x} }

// String renders an AttrRef as a dotted path.
func (a *AttrRef) String() string { return strings.Join(a.Path, ".") }

// FormatExpr renders an expression in infix form for logs and errors.
func FormatExpr(e Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case nil:
		b.WriteString("<none>")
	case *Literal:
		b.WriteString(Format(n.Value))
	case *AttrRef:
		b.WriteString(n.String())
	case *Unary:
		b.WriteString(string(n.Op))
		writeExpr(b, n.X)
	case *Binary:
		b.WriteByte('(')
		writeExpr(b, n.Left)
		b.WriteString(" " + string(n.Op) + " ")
		writeExpr(b, n.Right)
		b.WriteByte(')')
	case *RuleCall:
		b.WriteString(n.Rule)
		b.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, a)
		}
		for i, a := range n.Named {
			if i > 0 || len(n.Args) > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.Name + "=")
			writeExpr(b, a.Value)
		}
		b.WriteByte(')')
	}
}

// WalkExpr visits e and its children depth-first. Returning false from fn
// stops descent into that node's children.
func WalkExpr(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Unary:
		WalkExpr(n.X, fn)
	case *Binary:
		WalkExpr(n.Left, fn)
		WalkExpr(n.Right, fn)
	case *RuleCall:
		for _, a := range n.Args {
			WalkExpr(a, fn)
		}
		for _, a := range n.Named {
			WalkExpr(a.Value, fn)
		}
	}
}
