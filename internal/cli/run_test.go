package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/store"
)

func decodeEvents(t *testing.T, out string) []OutputEvent {
	t.Helper()
	var events []OutputEvent
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var ev OutputEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), scanner.Text())
		events = append(events, ev)
	}
	return events
}

func TestRun_DispatchesNearestFirst(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, dir, "line.cue", lineProgram)
	cfg := writeFile(t, dir, "plant.yaml", fleetConfig)
	db := filepath.Join(dir, "runs.db")

	out, err := execute(t, "", "run", "-c", cfg, "--db", db, "--run", "run-1", program)
	require.NoError(t, err)

	events := decodeEvents(t, out)
	var steps []string
	for _, ev := range events {
		if ev.Type == "dispatch" {
			steps = append(steps, ev.Dispatch.Step)
			assert.Equal(t, "agv1", ev.Dispatch.Assignee)
		}
	}
	assert.Equal(t, []string{"pick_p2", "pick_p1", "deliver"}, steps)
	last := events[len(events)-1]
	assert.Equal(t, "finished", last.Type)
	assert.Equal(t, engine.OutcomeSucceeded, last.Task.Outcome)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	dispatches, err := st.ReadDispatches(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, dispatches, 3)
	_, _, err = st.LatestSnapshot(context.Background(), "run-1")
	require.NoError(t, err)
}

func TestRun_SignalsFromStdin(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, dir, "gated.cue", gatedProgram)
	cfg := writeFile(t, dir, "plant.yaml", fleetConfig)
	db := filepath.Join(dir, "runs.db")

	stdin := `{"instance":"btn-1","field":"value","value":true}` + "\n"
	out, err := execute(t, stdin, "run", "-c", cfg, "--db", db, "--hook", "notify", program)
	require.NoError(t, err)

	var hooks, finished int
	for _, ev := range decodeEvents(t, out) {
		switch ev.Type {
		case "hook":
			hooks++
			assert.Equal(t, "notify", ev.Hook.Kind)
			assert.Equal(t, "report", ev.Hook.Task)
		case "finished":
			finished++
			assert.Equal(t, engine.OutcomeSucceeded, ev.Task.Outcome)
		}
	}
	assert.Equal(t, 1, hooks)
	assert.Equal(t, 2, finished)
}

func TestRun_ResumeFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, dir, "gated.cue", gatedProgram)
	cfg := writeFile(t, dir, "plant.yaml", fleetConfig)
	db := filepath.Join(dir, "runs.db")

	// Without the event the run never finishes; stop it after a few ticks.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	cmd := NewRootCommand()
	var first strings.Builder
	cmd.SetOut(&first)
	cmd.SetErr(&strings.Builder{})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{"run", "-c", cfg, "--db", db, "--run", "run-r", program})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, first.String(), `"step":"drop"`)

	stdin := `{"instance":"event1","value":true}` + "\n"
	out, err := execute(t, stdin, "run", "-c", cfg, "--db", db, "--run", "run-r", "--resume", "--hook", "notify", program)
	require.NoError(t, err)
	assert.NotContains(t, out, `"dispatch"`)
	assert.Contains(t, out, `"outcome":"succeeded"`)
}

func TestRun_ResumeUnknownRun(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, dir, "line.cue", lineProgram)
	cfg := writeFile(t, dir, "plant.yaml", fleetConfig)

	_, err := execute(t, "", "run", "-c", cfg, "--db", filepath.Join(dir, "runs.db"), "--run", "absent", "--resume", program)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeRunNotFound)
}

func TestRun_EntryFailureExitCode(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, dir, "far.cue", `
instances: {
	origin:  {struct: "Location", type: "dock", x: 0, y: 0}
	shelf:   {struct: "Location", type: "shelf", x: 10, y: 0}
	station: {struct: "Location", type: "station", x: 20, y: 0}
}
steps: {
	pick: {kind: "transport", location: "shelf"}
	drop: {kind: "transport", location: "station"}
}
tasks: main: {
	constraints: {TransportFinished: {latest: 5}}
	statements: [{transport: {from: ["pick"], to: "drop"}}]
}
`)
	cfg := writeFile(t, dir, "plant.yaml", fleetConfig)

	out, err := execute(t, "", "run", "-c", cfg, "--db", filepath.Join(dir, "runs.db"), program)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"code":"InfeasibleConstraints"`)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, dir, "line.cue", lineProgram)
	bad := writeFile(t, dir, "bad.cue", invalidProgram)

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"no database", []string{"run", program}, ExitCommandError, "no database"},
		{"resume without run", []string{"run", "--db", ":memory:", "--resume", program}, ExitCommandError, "--resume requires --run"},
		{"missing config", []string{"run", "-c", filepath.Join(dir, "absent.yaml"), "--db", ":memory:", program}, ExitCommandError, "failed to load configuration"},
		{"invalid program", []string{"run", "--db", ":memory:", bad}, ExitFailure, "program is invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplySignal_Rejects(t *testing.T) {
	p := compileLine(t)
	eng, err := engine.New(p)
	require.NoError(t, err)

	tests := []struct {
		line string
		want string
	}{
		{`{"instance":"p1"}`, "value is required"},
		{`{}`, "one of instance, done, cancel or stop"},
		{`{"bogus":1}`, ErrCodeInvalidInput},
		{`{"instance":"nowhere","value":1}`, "unknown struct instance"},
	}
	for _, tt := range tests {
		err := applySignal(eng, []byte(tt.line))
		require.Error(t, err, tt.line)
		assert.Contains(t, err.Error(), tt.want, tt.line)
	}
	require.NoError(t, applySignal(eng, []byte(`{"stop":true}`)))
}
