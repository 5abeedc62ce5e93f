package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iml130/mf-plugin/internal/ir"
)

func ruleProgram(calls map[string][]string) *ir.Program {
	p := ir.NewProgram()
	for name, callees := range calls {
		r := &ir.Rule{Name: name}
		for _, c := range callees {
			r.Body = append(r.Body, ir.Call(c))
		}
		if len(r.Body) == 0 {
			r.Body = []ir.Expr{ir.Lit(ir.Bool(true))}
		}
		p.Rules[name] = r
	}
	return p
}

func TestAnalyzeRuleCycles(t *testing.T) {
	tests := []struct {
		name  string
		calls map[string][]string
		want  [][]string
	}{
		{
			name:  "acyclic",
			calls: map[string][]string{"a": {"b"}, "b": {"c"}, "c": nil},
			want:  nil,
		},
		{
			name:  "self call",
			calls: map[string][]string{"a": {"a"}, "b": nil},
			want:  [][]string{{"a", "a"}},
		},
		{
			name:  "three rule cycle",
			calls: map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"a"}, "d": {"a"}},
			want:  [][]string{{"a", "b", "c", "a"}},
		},
		{
			name:  "two separate cycles",
			calls: map[string][]string{"x": {"y"}, "y": {"x"}, "m": {"m"}},
			want:  [][]string{{"m", "m"}, {"x", "y", "x"}},
		},
		{
			name:  "unknown callee ignored",
			calls: map[string][]string{"a": {"ghost"}},
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := AnalyzeRuleCycles(ruleProgram(tt.calls))
			var paths [][]string
			for _, w := range warnings {
				assert.Equal(t, "rule", w.Kind)
				assert.Equal(t, "warning", w.Level)
				paths = append(paths, w.Path)
			}
			assert.Equal(t, tt.want, paths)
		})
	}
}

func TestAnalyzeRuleCycles_ThroughDefault(t *testing.T) {
	p := ruleProgram(map[string][]string{"b": nil})
	p.Rules["a"] = &ir.Rule{
		Name:   "a",
		Params: []ir.Param{{Name: "x", Default: ir.Call("a")}},
		Body:   []ir.Expr{ir.Attr("x")},
	}
	warnings := AnalyzeRuleCycles(p)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "a → a")
}

func TestAnalyzeTaskCycles(t *testing.T) {
	p := ir.NewProgram()
	p.Steps["drop"] = &ir.OrderStep{Name: "drop", Kind: ir.StepTransport, Location: "d", OnDone: "produce"}
	p.Steps["pick"] = &ir.OrderStep{Name: "pick", Kind: ir.StepTransport, Location: "p"}
	p.AddTask(&ir.Task{Name: "main", Statements: []ir.Statement{&ir.TaskCall{Task: "produce"}}})
	p.AddTask(&ir.Task{Name: "produce", Statements: []ir.Statement{
		&ir.TransportOrder{From: []string{"pick"}, To: "drop"},
	}})
	p.AddTask(&ir.Task{Name: "ping", Statements: []ir.Statement{&ir.TaskCall{Task: "pong"}}})
	p.AddTask(&ir.Task{Name: "pong", Statements: []ir.Statement{&ir.TaskCall{Task: "ping"}}})

	warnings := AnalyzeTaskCycles(p)
	require.Len(t, warnings, 2)

	assert.Equal(t, []string{"ping", "pong", "ping"}, warnings[0].Path)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "never finishes")

	assert.Equal(t, []string{"produce", "produce"}, warnings[1].Path)
	assert.Equal(t, "info", warnings[1].Level)
}

func TestAnalyzeCycles_Warehouse(t *testing.T) {
	p, err := CompileFile("testdata/warehouse.cue")
	require.NoError(t, err)
	assert.Empty(t, AnalyzeRuleCycles(p))
	assert.Empty(t, AnalyzeTaskCycles(p))
}
