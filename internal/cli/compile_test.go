package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iml130/mf-plugin/internal/compiler"
)

func TestCompile_Text(t *testing.T) {
	path := writeFile(t, t.TempDir(), "line.cue", lineProgram)

	out, err := execute(t, "", "compile", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled")
	assert.Contains(t, out, "entry: main")
	assert.Contains(t, out, "task main: transport pick_p1, pick_p2 -> deliver")
}

func TestCompile_JSONAndOutputFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gated.cue", gatedProgram)
	outPath := filepath.Join(dir, "summary.json")

	out, err := execute(t, "", "--format", "json", "compile", "-o", outPath, path)
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   ProgramSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "main", resp.Data.Entry)
	assert.NotEmpty(t, resp.Data.Hash)
	assert.Equal(t, []string{"origin", "shelf", "station", "event1"}, resp.Data.Instances)
	require.Len(t, resp.Data.Steps, 2)
	assert.Equal(t, "drop", resp.Data.Steps[0].Name)
	assert.True(t, resp.Data.Steps[0].Gated)
	assert.Equal(t, "report", resp.Data.Steps[0].OnDone)
	require.Len(t, resp.Data.Tasks, 2)
	assert.Equal(t, []string{"hook notify"}, resp.Data.Tasks[1].Statements)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var written ProgramSummary
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, resp.Data, written)
}

func TestCompile_InvalidProgram(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.cue", invalidProgram)

	_, err := execute(t, "", "compile", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "program is invalid")
}

func TestSummarize_Statements(t *testing.T) {
	p, err := compiler.CompileBytes("calls.cue", []byte(`
tasks: {
	main: {
		startedBy: {ref: "start.value"}
		statements: [{call: "sub"}]
	}
	sub: statements: [{hook: {kind: "beep"}}]
}
instances: start: {struct: "Event", value: true}
`))
	require.NoError(t, err)

	s := Summarize(p)
	require.Len(t, s.Tasks, 2)
	assert.Equal(t, "main", s.Tasks[0].Name)
	assert.Equal(t, []string{"call sub"}, s.Tasks[0].Statements)
	assert.NotEmpty(t, s.Tasks[0].StartedBy)
	assert.Empty(t, s.Rules)
}
