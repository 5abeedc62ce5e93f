package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iml130/mf-plugin/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// ProgramSummary describes a compiled program.
type ProgramSummary struct {
	Hash      string        `json:"hash"`
	Entry     string        `json:"entry"`
	Instances []string      `json:"instances"`
	Rules     []string      `json:"rules"`
	Steps     []StepSummary `json:"steps"`
	Tasks     []TaskSummary `json:"tasks"`
}

// StepSummary is one declared order step.
type StepSummary struct {
	Name     string      `json:"name"`
	Kind     ir.StepKind `json:"kind"`
	Location string      `json:"location,omitempty"`
	Gated    bool        `json:"gated,omitempty"`
	OnDone   string      `json:"on_done,omitempty"`
}

// TaskSummary is one task with its statements rendered as text.
type TaskSummary struct {
	Name       string   `json:"name"`
	StartedBy  string   `json:"started_by,omitempty"`
	FinishedBy string   `json:"finished_by,omitempty"`
	Statements []string `json:"statements"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program.cue>",
		Short: "Compile a program and print its resolved index",
		Long: `Compile a CUE program document and print the resolved index: the
program hash, the entry task, every step and every task with its
statements. The program is validated first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the summary as JSON to this file")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	p, err := loadValidProgram(path)
	if err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error(), nil)
		return err
	}
	summary := Summarize(p)
	formatter.VerboseLog("Compiled %s: %d task(s), %d step(s)", path, len(summary.Tasks), len(summary.Steps))

	if opts.Output != "" {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.Output, append(data, '\n'), 0644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(summary)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Compiled %s\n", path)
	fmt.Fprintf(w, "  hash:  %s\n", summary.Hash)
	fmt.Fprintf(w, "  entry: %s\n", summary.Entry)
	for _, t := range summary.Tasks {
		fmt.Fprintf(w, "  task %s: %s\n", t.Name, strings.Join(t.Statements, "; "))
	}
	return nil
}

// Summarize builds the summary of p. Steps and rules are sorted by name;
// instances and tasks keep declaration order.
func Summarize(p *ir.Program) ProgramSummary {
	s := ProgramSummary{
		Hash:      p.Hash,
		Entry:     p.Entry,
		Instances: append([]string{}, p.InstanceOrder...),
		Rules:     make([]string, 0, len(p.Rules)),
		Steps:     make([]StepSummary, 0, len(p.Steps)),
		Tasks:     make([]TaskSummary, 0, len(p.TaskOrder)),
	}
	for name := range p.Rules {
		s.Rules = append(s.Rules, name)
	}
	sort.Strings(s.Rules)

	names := make([]string, 0, len(p.Steps))
	for name := range p.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := p.Steps[name]
		s.Steps = append(s.Steps, StepSummary{
			Name:     name,
			Kind:     st.Kind,
			Location: st.Location,
			Gated:    st.StartedBy != nil || st.FinishedBy != nil,
			OnDone:   st.OnDone,
		})
	}

	for _, name := range p.TaskOrder {
		t := p.Tasks[name]
		ts := TaskSummary{Name: name, Statements: make([]string, 0, len(t.Statements))}
		if t.StartedBy != nil {
			ts.StartedBy = ir.FormatExpr(t.StartedBy)
		}
		if t.FinishedBy != nil {
			ts.FinishedBy = ir.FormatExpr(t.FinishedBy)
		}
		for _, stmt := range t.Statements {
			ts.Statements = append(ts.Statements, formatStatement(stmt))
		}
		s.Tasks = append(s.Tasks, ts)
	}
	return s
}

func formatStatement(s ir.Statement) string {
	switch st := s.(type) {
	case *ir.TransportOrder:
		return fmt.Sprintf("transport %s -> %s", strings.Join(st.From, ", "), st.To)
	case *ir.MoveOrder:
		return "move " + st.Step
	case *ir.ActionOrder:
		return "action " + st.Step
	case *ir.TaskCall:
		return "call " + st.Task
	case *ir.HookStatement:
		return "hook " + st.Kind
	default:
		return fmt.Sprintf("%T", s)
	}
}
