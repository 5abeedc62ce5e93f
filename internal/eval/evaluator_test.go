package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iml130/mf-plugin/internal/ir"
)

func testView() MapView {
	return MapView{
		"event1": {Name: "event1", Struct: ir.StructEvent, Fields: ir.Object{
			"id": ir.String("e-1"), "time": ir.Number(0), "value": ir.Bool(false),
		}},
		"sensor1": {Name: "sensor1", Struct: "Sensor", Fields: ir.Object{
			"id": ir.String("s-1"), "time": ir.Number(0), "wetness": ir.Number(12),
			"room": ir.Ref("storage"),
		}},
		"storage": {Name: "storage", Struct: ir.StructLocation, Fields: ir.Object{
			"id": ir.String("l-1"), "time": ir.Number(0), "type": ir.String("shelf"),
		}},
	}
}

func testRules() map[string]*ir.Rule {
	return map[string]*ir.Rule{
		// isWet(s, limit = 10): s.wetness > limit
		"isWet": {
			Name:   "isWet",
			Params: []ir.Param{{Name: "s"}, {Name: "limit", Default: ir.Lit(ir.Number(10))}},
			Body:   []ir.Expr{ir.Cmp(ir.OpGt, ir.Attr("s.wetness"), ir.Attr("limit"))},
		},
		// between(x, lo, hi): x >= lo; x <= hi
		"between": {
			Name:   "between",
			Params: []ir.Param{{Name: "x"}, {Name: "lo"}, {Name: "hi"}},
			Body: []ir.Expr{
				ir.Cmp(ir.OpGe, ir.Attr("x"), ir.Attr("lo")),
				ir.Cmp(ir.OpLe, ir.Attr("x"), ir.Attr("hi")),
			},
		},
		// onShelf(s): s.room.type == "shelf"
		"onShelf": {
			Name:   "onShelf",
			Params: []ir.Param{{Name: "s"}},
			Body:   []ir.Expr{ir.Cmp(ir.OpEq, ir.Attr("s.room.type"), ir.Lit(ir.String("shelf")))},
		},
		// wetOnShelf(s): isWet(s); onShelf(s)
		"wetOnShelf": {
			Name:   "wetOnShelf",
			Params: []ir.Param{{Name: "s"}},
			Body:   []ir.Expr{ir.Call("isWet", ir.Attr("s")), ir.Call("onShelf", ir.Attr("s"))},
		},
		// loop(): loop()
		"loop": {
			Name: "loop",
			Body: []ir.Expr{ir.Call("loop")},
		},
		// notBool(): 1
		"notBool": {
			Name: "notBool",
			Body: []ir.Expr{ir.Lit(ir.Number(1))},
		},
	}
}

func TestRuleBodyIsConjunction(t *testing.T) {
	// both(a, b): a == true; b == true
	ev := New(map[string]*ir.Rule{"both": {
		Name:   "both",
		Params: []ir.Param{{Name: "a"}, {Name: "b"}},
		Body: []ir.Expr{
			ir.Cmp(ir.OpEq, ir.Attr("a"), ir.Lit(ir.Bool(true))),
			ir.Cmp(ir.OpEq, ir.Attr("b"), ir.Lit(ir.Bool(true))),
		},
	}})

	for _, a := range []bool{false, true} {
		for _, b := range []bool{false, true} {
			got, err := ev.EvaluateRule(ir.Call("both", ir.Lit(ir.Bool(a)), ir.Lit(ir.Bool(b))), testView())
			require.NoError(t, err)
			assert.Equal(t, a && b, got, "a=%v b=%v", a, b)
		}
	}
}

func TestEvaluateRuleBinding(t *testing.T) {
	ev := New(testRules())
	view := testView()

	tests := []struct {
		name    string
		call    *ir.RuleCall
		want    bool
		errCode ErrorCode
	}{
		{
			name: "positional with default",
			call: ir.Call("isWet", ir.Attr("sensor1")),
			want: true,
		},
		{
			name: "positional overrides default",
			call: ir.Call("isWet", ir.Attr("sensor1"), ir.Lit(ir.Number(20))),
			want: false,
		},
		{
			name: "named argument",
			call: &ir.RuleCall{
				Rule:  "isWet",
				Args:  []ir.Expr{ir.Attr("sensor1")},
				Named: []ir.NamedArg{{Name: "limit", Value: ir.Lit(ir.Number(12))}},
			},
			want: false,
		},
		{
			name: "named overrides positional",
			call: &ir.RuleCall{
				Rule:  "isWet",
				Args:  []ir.Expr{ir.Attr("sensor1"), ir.Lit(ir.Number(50))},
				Named: []ir.NamedArg{{Name: "limit", Value: ir.Lit(ir.Number(1))}},
			},
			want: true,
		},
		{
			name:    "too many positional",
			call:    ir.Call("isWet", ir.Attr("sensor1"), ir.Lit(ir.Number(1)), ir.Lit(ir.Number(2))),
			errCode: ErrCodeArityMismatch,
		},
		{
			name:    "missing required",
			call:    ir.Call("isWet"),
			errCode: ErrCodeArityMismatch,
		},
		{
			name: "unknown named",
			call: &ir.RuleCall{
				Rule:  "isWet",
				Args:  []ir.Expr{ir.Attr("sensor1")},
				Named: []ir.NamedArg{{Name: "threshold", Value: ir.Lit(ir.Number(1))}},
			},
			errCode: ErrCodeUnknownParameter,
		},
		{
			name:    "unknown rule",
			call:    ir.Call("nope"),
			errCode: ErrCodeUnresolvedReference,
		},
		{
			name: "implicit and",
			call: ir.Call("between", ir.Lit(ir.Number(5)), ir.Lit(ir.Number(1)), ir.Lit(ir.Number(9))),
			want: true,
		},
		{
			name: "implicit and fails second",
			call: ir.Call("between", ir.Lit(ir.Number(10)), ir.Lit(ir.Number(1)), ir.Lit(ir.Number(9))),
			want: false,
		},
		{
			name: "nested instance reference",
			call: ir.Call("onShelf", ir.Attr("sensor1")),
			want: true,
		},
		{
			name: "nested rule calls",
			call: ir.Call("wetOnShelf", ir.Attr("sensor1")),
			want: true,
		},
		{
			name:    "body not bool",
			call:    ir.Call("notBool"),
			errCode: ErrCodeTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.EvaluateRule(tt.call, view)
			if tt.errCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errCode, CodeOf(err), "error: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImplicitAndShortCircuits(t *testing.T) {
	rules := map[string]*ir.Rule{
		// guarded(): false; missing.value == 1
		"guarded": {
			Name: "guarded",
			Body: []ir.Expr{
				ir.Lit(ir.Bool(false)),
				ir.Cmp(ir.OpEq, ir.Attr("missing.value"), ir.Lit(ir.Number(1))),
			},
		},
	}
	got, err := New(rules).EvaluateRule(ir.Call("guarded"), testView())
	require.NoError(t, err)
	assert.False(t, got)
}

func TestRecursionLimit(t *testing.T) {
	_, err := New(testRules()).EvaluateRule(ir.Call("loop"), testView())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeRecursionLimit))
}

func TestRecursionLimitConfigurable(t *testing.T) {
	rules := map[string]*ir.Rule{
		"a": {Name: "a", Body: []ir.Expr{ir.Call("b")}},
		"b": {Name: "b", Body: []ir.Expr{ir.Call("c")}},
		"c": {Name: "c", Body: []ir.Expr{ir.Lit(ir.Bool(true))}},
	}

	ok, err := New(rules, WithMaxDepth(3)).EvaluateRule(ir.Call("a"), testView())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = New(rules, WithMaxDepth(2)).EvaluateRule(ir.Call("a"), testView())
	assert.True(t, IsCode(err, ErrCodeRecursionLimit))

	assert.Equal(t, DefaultMaxDepth, New(rules, WithMaxDepth(0)).MaxDepth())
}

func TestTruth(t *testing.T) {
	ev := New(testRules())
	view := testView()

	tests := []struct {
		name    string
		expr    ir.Expr
		want    bool
		errCode ErrorCode
	}{
		{"equality", ir.Cmp(ir.OpEq, ir.Attr("event1.value"), ir.Lit(ir.Bool(false))), true, ""},
		{"inequality", ir.Cmp(ir.OpNe, ir.Attr("event1.value"), ir.Lit(ir.Bool(false))), false, ""},
		{"not", ir.Not(ir.Attr("event1.value")), true, ""},
		{"string order", ir.Cmp(ir.OpLt, ir.Lit(ir.String("a")), ir.Lit(ir.String("b"))), true, ""},
		{"arithmetic", ir.Cmp(ir.OpEq,
			ir.Cmp(ir.OpMul, ir.Attr("sensor1.wetness"), ir.Lit(ir.Number(2))),
			ir.Lit(ir.Number(24))), true, ""},
		{"or short-circuit", ir.Cmp(ir.OpOr, ir.Lit(ir.Bool(true)), ir.Attr("ghost.value")), true, ""},
		{"and short-circuit", ir.Cmp(ir.OpAnd, ir.Lit(ir.Bool(false)), ir.Attr("ghost.value")), false, ""},
		{"ref identity", ir.Cmp(ir.OpEq, ir.Attr("sensor1.room"), ir.Attr("storage")), true, ""},
		{"mixed kinds", ir.Cmp(ir.OpEq, ir.Attr("event1.value"), ir.Lit(ir.Number(1))), false, ErrCodeTypeMismatch},
		{"bool ordering", ir.Cmp(ir.OpLt, ir.Lit(ir.Bool(true)), ir.Lit(ir.Bool(false))), false, ErrCodeTypeMismatch},
		{"unknown instance", ir.Attr("ghost.value"), false, ErrCodeUnresolvedReference},
		{"unknown attribute", ir.Attr("event1.missing"), false, ErrCodeUnresolvedReference},
		{"attribute of scalar", ir.Attr("event1.value.x"), false, ErrCodeTypeMismatch},
		{"non bool condition", ir.Attr("sensor1.wetness"), false, ErrCodeTypeMismatch},
		{"division by zero", ir.Cmp(ir.OpEq,
			ir.Cmp(ir.OpDiv, ir.Lit(ir.Number(1)), ir.Lit(ir.Number(0))),
			ir.Lit(ir.Number(1))), false, ErrCodeDivisionByZero},
		{"negate bool", &ir.Unary{Op: ir.OpNeg, X: ir.Lit(ir.Bool(true))}, false, ErrCodeTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Truth(tt.expr, view)
			if tt.errCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errCode, CodeOf(err), "error: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluationDoesNotMutate(t *testing.T) {
	view := testView()
	before := view["sensor1"].Clone()

	_, err := New(testRules()).EvaluateRule(ir.Call("wetOnShelf", ir.Attr("sensor1")), view)
	require.NoError(t, err)
	assert.True(t, ir.Equal(before.Fields, view["sensor1"].Fields))
}

func TestParameterShadowsInstance(t *testing.T) {
	rules := map[string]*ir.Rule{
		// shadow(event1): event1 == 3
		"shadow": {
			Name:   "shadow",
			Params: []ir.Param{{Name: "event1"}},
			Body:   []ir.Expr{ir.Cmp(ir.OpEq, ir.Attr("event1"), ir.Lit(ir.Number(3)))},
		},
	}
	ok, err := New(rules).EvaluateRule(ir.Call("shadow", ir.Lit(ir.Number(3))), testView())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestErrorMessage(t *testing.T) {
	_, err := New(testRules()).EvaluateRule(ir.Call("isWet"), testView())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ArityMismatch")
	assert.Contains(t, err.Error(), "rule=isWet")
}
