package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iml130/mf-plugin/internal/eval"
	"github.com/iml130/mf-plugin/internal/ir"
)

func eventView(value bool) eval.MapView {
	return eval.MapView{
		"event1": {Name: "event1", Struct: ir.StructEvent, Fields: ir.Object{
			"id": ir.String("e-1"), "time": ir.Number(0), "value": ir.Bool(value),
		}},
	}
}

func TestGateLatches(t *testing.T) {
	ev := eval.New(nil)
	g := New(StartedBy, "step pickup", ir.Cmp(ir.OpEq, ir.Attr("event1.value"), ir.Lit(ir.Bool(true))))

	st, err := g.Poll(ev, eventView(false))
	require.NoError(t, err)
	assert.Equal(t, Pending, st)
	assert.False(t, g.Satisfied())

	st, err = g.Poll(ev, eventView(true))
	require.NoError(t, err)
	assert.Equal(t, Satisfied, st)

	// Once latched the value flipping back does not matter.
	st, err = g.Poll(ev, eventView(false))
	require.NoError(t, err)
	assert.Equal(t, Satisfied, st)
	assert.True(t, g.Satisfied())
}

func TestNilConditionIsSatisfied(t *testing.T) {
	g := New(FinishedBy, "task t", nil)
	assert.False(t, g.HasCondition())

	st, err := g.Poll(eval.New(nil), eval.MapView{})
	require.NoError(t, err)
	assert.Equal(t, Satisfied, st)
	assert.Equal(t, "satisfied", st.String())
}

func TestGateErrorIsAttributed(t *testing.T) {
	g := New(FinishedBy, "step drop", ir.Attr("ghost.value"))

	st, err := g.Poll(eval.New(nil), eventView(true))
	require.Error(t, err)
	assert.Equal(t, Pending, st)
	assert.False(t, g.Satisfied())

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, FinishedBy, gerr.Kind)
	assert.Equal(t, "step drop", gerr.Owner)
	assert.True(t, eval.IsCode(err, eval.ErrCodeUnresolvedReference))
}

func TestGateNonBoolIsTypeMismatch(t *testing.T) {
	g := New(StartedBy, "task t", ir.Lit(ir.Number(1)))
	_, err := g.Poll(eval.New(nil), eval.MapView{})
	assert.True(t, eval.IsCode(err, eval.ErrCodeTypeMismatch))
}

func TestRestore(t *testing.T) {
	g := Restore(StartedBy, "task t", ir.Lit(ir.Bool(false)), true)
	st, err := g.Poll(eval.New(nil), eval.MapView{})
	require.NoError(t, err)
	assert.Equal(t, Satisfied, st)
	assert.Equal(t, StartedBy, g.Kind())
}

func TestPeekDoesNotLatch(t *testing.T) {
	ev := eval.New(nil)
	g := New(StartedBy, "step pickup", ir.Attr("event1.value"))

	assert.True(t, g.Peek(ev, eventView(true)))
	assert.False(t, g.Satisfied())
	assert.False(t, g.Peek(ev, eventView(false)))
	assert.False(t, g.Peek(ev, eval.MapView{}), "errors read as not satisfied")
}
