package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lineScenario = `
name: line
description: "nearest pickup first"
program: ../programs/line.cue
config:
  fleet:
    - {id: agv1, location: origin}
ticks:
  - at: 0
    expect:
      dispatches: [pick_p2, pick_p1, deliver]
assertions:
  - {type: task_outcome, task: main, outcome: succeeded}
`

const failingScenario = `
name: wrong_order
description: "expects the far pickup first"
program: ../programs/line.cue
config:
  fleet:
    - {id: agv1, location: origin}
ticks:
  - at: 0
assertions:
  - {type: dispatch_order, steps: [pick_p1, pick_p2]}
`

// scenarioTree lays out programs/, scenarios/ and returns the scenarios
// directory.
func scenarioTree(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "programs/line.cue", lineProgram)
	for name, content := range scenarios {
		writeFile(t, root, filepath.Join("scenarios", name), content)
	}
	return filepath.Join(root, "scenarios")
}

func TestTestCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, "", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommand_NotFound(t *testing.T) {
	_, err := execute(t, "", "test", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestTestCommand_Empty(t *testing.T) {
	out, err := execute(t, "", "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	dir := scenarioTree(t, map[string]string{"line.yaml": lineScenario})
	golden := filepath.Join(filepath.Dir(dir), "golden", "line.golden")

	out, err := execute(t, "", "test", "--update", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ line")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"line"`)

	out, err = execute(t, "", "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All scenarios passed")

	require.NoError(t, os.WriteFile(golden, []byte(`{}`), 0644))
	out, err = execute(t, "", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_SingleFile(t *testing.T) {
	dir := scenarioTree(t, map[string]string{"line.yaml": lineScenario})

	out, err := execute(t, "", "test", filepath.Join(dir, "line.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_FailureJSON(t *testing.T) {
	dir := scenarioTree(t, map[string]string{
		"line.yaml":  lineScenario,
		"wrong.yaml": failingScenario,
	})

	out, err := execute(t, "", "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "line", resp.Data.Scenarios[0].Name)
	assert.False(t, resp.Data.Scenarios[1].Pass)
	assert.Contains(t, resp.Data.Scenarios[1].Errors[0], "dispatch_order")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := scenarioTree(t, map[string]string{
		"line.yaml":  lineScenario,
		"wrong.yaml": failingScenario,
	})

	out, err := execute(t, "", "test", "--filter", "li*", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := scenarioTree(t, map[string]string{"broken.yaml": "name: broken\n"})

	out, err := execute(t, "", "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}
