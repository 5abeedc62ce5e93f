package assign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iml130/mf-plugin/internal/ir"
)

func f64(v float64) *float64 { return &v }

// testTopology: entity starts at S, P2 is closer than P1.
func testTopology() *Table {
	return NewTable().
		Set("S", "P1", 5).
		Set("S", "P2", 2).
		Set("S", "D", 6).
		Set("P1", "P2", 3).
		Set("P1", "D", 4).
		Set("P2", "D", 4)
}

func twoPickups() Request {
	return Request{
		Order:    "transport#0",
		Pickups:  []Stop{{Step: "p1", Location: "P1"}, {Step: "p2", Location: "P2"}},
		Delivery: Stop{Step: "d", Location: "D"},
	}
}

func TestNearestNeighborOrder(t *testing.T) {
	a := New(NewFleet(Entity{ID: "mr-1", Location: "S"}), testTopology())

	plan, err := a.Assign(twoPickups())
	require.NoError(t, err)
	assert.Equal(t, "mr-1", plan.Entity)
	assert.Equal(t, []string{"p2", "p1"}, plan.Sequence)
	assert.InDelta(t, 2+3+4, plan.Distance, 1e-9)
	assert.InDelta(t, 9, plan.Finish, 1e-9)
}

func TestTieBrokenByDeclarationOrder(t *testing.T) {
	topo := NewTable().
		Set("S", "P1", 2).Set("S", "P2", 2).
		Set("P1", "P2", 1).Set("P1", "D", 1).Set("P2", "D", 1)
	a := New(NewFleet(Entity{ID: "mr-1", Location: "S"}), topo)

	plan, err := a.Assign(twoPickups())
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, plan.Sequence)
}

func TestAssignIsDeterministic(t *testing.T) {
	fleet := NewFleet(Entity{ID: "a", Location: "S"}, Entity{ID: "b", Location: "S"})
	a := New(fleet, testTopology())

	first, err := a.Assign(twoPickups())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := a.Assign(twoPickups())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// Equal distances: the first declared entity wins.
	assert.Equal(t, "a", first.Entity)
}

func TestNearestEntityWins(t *testing.T) {
	topo := testTopology().Set("FAR", "P1", 50).Set("FAR", "P2", 40).Set("FAR", "D", 45)
	fleet := NewFleet(Entity{ID: "far", Location: "FAR"}, Entity{ID: "near", Location: "S"})

	plan, err := New(fleet, topo).Assign(twoPickups())
	require.NoError(t, err)
	assert.Equal(t, "near", plan.Entity)
}

func TestEqualDistanceLowerIDWins(t *testing.T) {
	fleet := NewFleet(Entity{ID: "r2", Location: "S"}, Entity{ID: "r1", Location: "S"})

	plan, err := New(fleet, testTopology()).Assign(twoPickups())
	require.NoError(t, err)
	assert.Equal(t, "r1", plan.Entity)
}

func TestInfeasibleWindow(t *testing.T) {
	c, err := Compile(&ir.Constraints{TransportFinished: ir.Window{Latest: f64(5)}})
	require.NoError(t, err)

	req := twoPickups()
	req.Constraints = c
	_, err = New(NewFleet(Entity{ID: "mr-1", Location: "S"}), testTopology()).Assign(req)
	require.Error(t, err)
	assert.True(t, IsInfeasible(err))
	assert.False(t, IsRetryable(err))
}

func TestInfeasibleRetryableWithPendingGates(t *testing.T) {
	c, err := Compile(&ir.Constraints{TransportFinished: ir.Window{Latest: f64(10)}})
	require.NoError(t, err)

	req := twoPickups()
	req.Constraints = c
	req.Pickups[0].Wait = 30
	req.PendingGates = true
	_, err = New(NewFleet(Entity{ID: "mr-1", Location: "S"}), testTopology()).Assign(req)
	assert.True(t, IsInfeasible(err))
	assert.True(t, IsRetryable(err))
}

func TestFallbackFindsFeasibleOrder(t *testing.T) {
	// Nearest neighbor goes S->P2->P1->D = 2+3+10 = 15.
	// The other order S->P1->P2->D = 5+3+1 = 9.
	topo := NewTable().
		Set("S", "P1", 5).Set("S", "P2", 2).
		Set("P1", "P2", 3).Set("P1", "D", 10).Set("P2", "D", 1)
	c, err := Compile(&ir.Constraints{Expression: "Distance <= 12"})
	require.NoError(t, err)

	req := twoPickups()
	req.Constraints = c
	plan, err := New(NewFleet(Entity{ID: "mr-1", Location: "S"}), topo).Assign(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, plan.Sequence)

	// Without the fallback the order is infeasible.
	_, err = New(NewFleet(Entity{ID: "mr-1", Location: "S"}), topo, WithMaxExactPickups(0)).Assign(req)
	assert.True(t, IsInfeasible(err))
}

func TestStartWindowDelaysStart(t *testing.T) {
	c, err := Compile(&ir.Constraints{TransportStart: ir.Window{Earliest: f64(100)}})
	require.NoError(t, err)

	req := twoPickups()
	req.Constraints = c
	plan, err := New(NewFleet(Entity{ID: "mr-1", Location: "S"}), testTopology()).Assign(req)
	require.NoError(t, err)
	assert.InDelta(t, 100, plan.Start, 1e-9)
	assert.InDelta(t, 109, plan.Finish, 1e-9)
}

func TestExpressionUsingNowIsRetryable(t *testing.T) {
	c, err := Compile(&ir.Constraints{Expression: "Now >= 60"})
	require.NoError(t, err)

	req := twoPickups()
	req.Constraints = c
	req.Now = 10
	_, err = New(NewFleet(Entity{ID: "mr-1", Location: "S"}), testTopology()).Assign(req)
	assert.True(t, IsInfeasible(err))
	assert.True(t, IsRetryable(err))

	req.Now = 60
	_, err = New(NewFleet(Entity{ID: "mr-1", Location: "S"}), testTopology()).Assign(req)
	assert.NoError(t, err)
}

func TestNoEligibleEntity(t *testing.T) {
	t.Run("empty fleet", func(t *testing.T) {
		_, err := New(NewFleet(), testTopology()).Assign(twoPickups())
		assert.True(t, IsNoEligibleEntity(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("all committed", func(t *testing.T) {
		fleet := NewFleet(Entity{ID: "mr-1", Location: "S"})
		require.NoError(t, fleet.Commit("mr-1", "task-a"))
		_, err := New(fleet, testTopology()).Assign(twoPickups())
		assert.True(t, IsNoEligibleEntity(err))
		assert.True(t, IsRetryable(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		fleet := NewFleet(Entity{ID: "mr-1", Location: "ISLAND"})
		_, err := New(fleet, testTopology()).Assign(twoPickups())
		assert.True(t, IsNoEligibleEntity(err))
		assert.False(t, IsRetryable(err))
	})
}

func TestCompileRejectsBadConstraints(t *testing.T) {
	_, err := Compile(&ir.Constraints{Expression: "TransportStart +"})
	assert.Error(t, err)

	_, err = Compile(&ir.Constraints{Expression: "Distance"})
	assert.Error(t, err, "non-boolean expression")

	_, err = Compile(&ir.Constraints{TransportStart: ir.Window{Earliest: f64(10), Latest: f64(5)}})
	assert.Error(t, err)

	c, err := Compile(nil)
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestFleetCommitRelease(t *testing.T) {
	fleet := NewFleet(Entity{ID: "a", Location: "S"}, Entity{ID: "b"}, Entity{ID: "a", Location: "X"})
	assert.Equal(t, 2, fleet.Len())

	require.NoError(t, fleet.Commit("a", "run-1"))
	assert.Error(t, fleet.Commit("a", "run-2"))
	assert.Error(t, fleet.Commit("ghost", "run-1"))
	assert.Equal(t, "run-1", fleet.Owner("a"))
	assert.Len(t, fleet.Available(), 1)

	fleet.Release("a", "run-2", "D")
	assert.Equal(t, "run-1", fleet.Owner("a"), "release by non-owner is ignored")

	fleet.Release("a", "run-1", "D")
	assert.Equal(t, "", fleet.Owner("a"))
	st := fleet.Statuses()
	assert.Equal(t, "D", st[0].Location)
	assert.Equal(t, DefaultSpeed, st[1].Speed)
}

func TestEuclidean(t *testing.T) {
	e := Euclidean{"a": {0, 0}, "b": {3, 4}}
	d, ok := e.Distance("a", "b")
	assert.True(t, ok)
	assert.InDelta(t, 5, d, 1e-9)

	_, ok = e.Distance("a", "c")
	assert.False(t, ok)

	l := Layered{NewTable().Set("a", "c", 7), e}
	d, ok = l.Distance("c", "a")
	assert.True(t, ok)
	assert.InDelta(t, 7, d, 1e-9)
}

func TestNextPermutation(t *testing.T) {
	p := []int{0, 1, 2}
	var seen [][]int
	for {
		seen = append(seen, append([]int(nil), p...))
		if !nextPermutation(p) {
			break
		}
	}
	assert.Equal(t, [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}, seen)
}
