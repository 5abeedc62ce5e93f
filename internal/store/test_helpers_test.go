package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iml130/mf-plugin/internal/assign"
	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/ir"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func location(name string, x float64) *ir.StructInstance {
	return &ir.StructInstance{Name: name, Struct: ir.StructLocation, Fields: ir.Object{
		ir.FieldID:   ir.String(name),
		ir.FieldType: ir.String("station"),
		ir.FieldX:    ir.Number(x),
		ir.FieldY:    ir.Number(0),
	}}
}

// lineProgram picks at a (x=10) and b (x=3), delivers to d (x=20), then
// runs an action carrying parameters. The delivery waits for event1.
func lineProgram() *ir.Program {
	p := ir.NewProgram()
	p.Hash = "sha256:line"
	for _, l := range []*ir.StructInstance{location("origin", 0), location("a", 10), location("b", 3), location("d", 20)} {
		p.AddInstance(l)
	}
	p.AddInstance(&ir.StructInstance{Name: "event1", Struct: ir.StructEvent, Fields: ir.Object{
		ir.FieldID:    ir.String("event1"),
		ir.FieldValue: ir.Bool(false),
	}})
	p.Steps["pick_a"] = &ir.OrderStep{Name: "pick_a", Kind: ir.StepTransport, Location: "a"}
	p.Steps["pick_b"] = &ir.OrderStep{Name: "pick_b", Kind: ir.StepTransport, Location: "b"}
	p.Steps["deliver"] = &ir.OrderStep{Name: "deliver", Kind: ir.StepTransport, Location: "d",
		FinishedBy: ir.Attr("event1.value")}
	p.Steps["beep"] = &ir.OrderStep{Name: "beep", Kind: ir.StepAction,
		Parameters: ir.Object{"tone": ir.String("short")}}
	p.AddTask(&ir.Task{Name: p.Entry, Statements: []ir.Statement{
		&ir.TransportOrder{From: []string{"pick_a", "pick_b"}, To: "deliver"},
		&ir.ActionOrder{Step: "beep"},
	}})
	return p
}

// recordedEngine creates an engine over lineProgram that records into s
// under run id "run-a".
func recordedEngine(t *testing.T, s *Store) *engine.Engine {
	t.Helper()
	p := lineProgram()
	require.NoError(t, s.CreateRun(context.Background(), NewRun("run-a", p)))
	e, err := engine.New(p,
		engine.WithIDGenerator(engine.NewSequenceGenerator("t")),
		engine.WithFleet(assign.NewFleet(assign.Entity{ID: "agv1", Location: "origin"})),
		engine.WithRecorder(s, "run-a"),
	)
	require.NoError(t, err)
	return e
}

func tickAt(t *testing.T, e *engine.Engine, seconds float64) *engine.TickReport {
	t.Helper()
	rep, err := e.Tick(context.Background(), t0.Add(time.Duration(seconds*float64(time.Second))))
	require.NoError(t, err)
	return rep
}
