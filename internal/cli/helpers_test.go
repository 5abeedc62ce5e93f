package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iml130/mf-plugin/internal/compiler"
	"github.com/iml130/mf-plugin/internal/ir"
)

// lineProgram has one transport with two pickups on a line.
const lineProgram = `
instances: {
	origin: {struct: "Location", type: "dock", x: 0, y: 0}
	p1:     {struct: "Location", type: "shelf", x: 5, y: 0}
	p2:     {struct: "Location", type: "shelf", x: 2, y: 0}
	d:      {struct: "Location", type: "station", x: 10, y: 0}
}
steps: {
	pick_p1: {kind: "transport", location: "p1"}
	pick_p2: {kind: "transport", location: "p2"}
	deliver: {kind: "transport", location: "d"}
}
tasks: main: statements: [{transport: {from: ["pick_p1", "pick_p2"], to: "deliver"}}]
`

// gatedProgram holds the delivery until event1 is set and then runs a
// notify hook.
const gatedProgram = `
instances: {
	origin:  {struct: "Location", type: "dock", x: 0, y: 0}
	shelf:   {struct: "Location", type: "shelf", x: 4, y: 0}
	station: {struct: "Location", type: "station", x: 8, y: 0}
	event1:  {struct: "Event", id: "btn-1", value: false}
}
steps: {
	pick: {kind: "transport", location: "shelf"}
	drop: {
		kind:       "transport"
		location:   "station"
		finishedBy: {op: "==", left: {ref: "event1.value"}, right: true}
		onDone:     "report"
	}
}
tasks: {
	main: statements: [{transport: {from: ["pick"], to: "drop"}}]
	report: statements: [{hook: {kind: "notify", payload: {channel: "ops"}}}]
}
`

// invalidProgram moves before any transport and names an unknown step.
const invalidProgram = `
instances: origin: {struct: "Location", type: "dock", x: 0, y: 0}
steps: park: {kind: "move", location: "origin"}
tasks: main: statements: [{move: "park"}, {move: "nowhere"}]
`

// fleetConfig has one entity at origin and a short tick interval.
const fleetConfig = `
engine:
  tick_interval: 20ms
fleet:
  - {id: agv1, location: origin}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func compileLine(t *testing.T) *ir.Program {
	t.Helper()
	p, err := compiler.CompileBytes("line.cue", []byte(lineProgram))
	require.NoError(t, err)
	return p
}
