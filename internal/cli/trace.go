package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/ir"
	"github.com/iml130/mf-plugin/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Entity   string // optional - only dispatches to this entity
}

// TimelineEvent is one recorded effect of a run.
type TimelineEvent struct {
	Seq      int64  `json:"seq"`
	Type     string `json:"type"` // "update", "dispatch" or "finished"
	Task     string `json:"task,omitempty"`
	TaskRun  string `json:"task_run,omitempty"`
	Step     string `json:"step,omitempty"`
	StepRun  string `json:"step_run,omitempty"`
	Entity   string `json:"entity,omitempty"`
	Location string `json:"location,omitempty"`
	Instance string `json:"instance,omitempty"`
	Field    string `json:"field,omitempty"`
	Value    string `json:"value,omitempty"`
	Source   string `json:"source,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run      store.Run       `json:"run"`
	Timeline []TimelineEvent `json:"timeline"`
	Stats    TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for the run.
type TraceStats struct {
	Updates    int `json:"updates"`
	Dispatches int `json:"dispatches"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the recorded history of a run",
		Long: `Print what a run did, tick by tick: applied instance updates,
dispatched steps with their assignee, and how every task run finished.

Without --run, the runs in the database are listed.

Examples:
  mfexec trace --db ./runs.db
  mfexec trace --db ./runs.db --run 0190c3e2-...
  mfexec trace --db ./runs.db --run 0190c3e2-... --entity agv1 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to trace")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "only show dispatches to this entity")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.RunID == "" {
		return listRuns(ctx, st, formatter)
	}

	run, err := st.GetRun(ctx, opts.RunID)
	if errors.Is(err, store.ErrNotFound) {
		_ = formatter.Error(ErrCodeRunNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	result, err := buildTrace(ctx, st, run, opts.Entity)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	writeTraceText(cmd.OutOrStdout(), result)
	return nil
}

// openExistingStore opens path, refusing to create a new database.
func openExistingStore(path string) (*store.Store, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(formatter.Writer, "%s  entry=%s  program=%s\n", r.ID, r.Entry, truncateID(r.ProgramHash))
	}
	return nil
}

// buildTrace merges updates, dispatches and outcomes into one timeline
// ordered by tick. Within a tick updates come first, then dispatches,
// then outcomes.
func buildTrace(ctx context.Context, st *store.Store, run store.Run, entity string) (TraceResult, error) {
	result := TraceResult{Run: run, Timeline: []TimelineEvent{}}
	type keyed struct {
		rank int
		ev   TimelineEvent
	}
	var events []keyed

	if entity == "" {
		updates, err := st.ReadUpdates(ctx, run.ID)
		if err != nil {
			return result, err
		}
		for _, u := range updates {
			events = append(events, keyed{0, TimelineEvent{
				Seq: u.Seq, Type: "update",
				Instance: u.Instance, Field: u.Field, Value: ir.Format(u.Value), Source: u.Source,
			}})
		}
		result.Stats.Updates = len(updates)
	}

	dispatches, err := st.ReadDispatches(ctx, run.ID)
	if entity != "" {
		dispatches, err = st.ReadDispatchesFor(ctx, run.ID, entity)
	}
	if err != nil {
		return result, err
	}
	seqs, err := dispatchSeqs(ctx, st, run.ID)
	if err != nil {
		return result, err
	}
	for _, d := range dispatches {
		events = append(events, keyed{1, TimelineEvent{
			Seq: seqs[d.StepRun], Type: "dispatch",
			Task: d.Task, TaskRun: d.TaskRun, Step: d.Step, StepRun: d.StepRun,
			Entity: d.Assignee, Location: d.Location,
		}})
	}
	result.Stats.Dispatches = len(dispatches)

	outcomes, err := st.ReadOutcomes(ctx, run.ID)
	if err != nil {
		return result, err
	}
	for _, o := range outcomes {
		switch o.Outcome {
		case engine.OutcomeSucceeded:
			result.Stats.Succeeded++
		case engine.OutcomeFailed:
			result.Stats.Failed++
		case engine.OutcomeCancelled:
			result.Stats.Cancelled++
		}
		if entity != "" {
			continue
		}
		events = append(events, keyed{2, TimelineEvent{
			Seq: o.Seq, Type: "finished",
			Task: o.Task, TaskRun: o.TaskRun, Outcome: string(o.Outcome), Code: o.Code, Message: o.Message,
		}})
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].ev.Seq != events[j].ev.Seq {
			return events[i].ev.Seq < events[j].ev.Seq
		}
		return events[i].rank < events[j].rank
	})
	for _, k := range events {
		result.Timeline = append(result.Timeline, k.ev)
	}
	return result, nil
}

// dispatchSeqs maps step run ids to the tick they were dispatched in.
func dispatchSeqs(ctx context.Context, st *store.Store, runID string) (map[string]int64, error) {
	rows, err := st.Query(ctx, `SELECT step_run, seq FROM dispatches WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var seq int64
		if err := rows.Scan(&id, &seq); err != nil {
			return nil, err
		}
		out[id] = seq
	}
	return out, rows.Err()
}

func writeTraceText(w io.Writer, result TraceResult) {
	fmt.Fprintf(w, "Trace for run: %s (entry %s)\n", result.Run.ID, result.Run.Entry)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range result.Timeline {
		switch ev.Type {
		case "update":
			fmt.Fprintf(w, "  [%d] SET %s.%s = %s (%s)\n", ev.Seq, ev.Instance, ev.Field, ev.Value, ev.Source)
		case "dispatch":
			fmt.Fprintf(w, "  [%d] DISPATCH %s %s -> %s @ %s\n", ev.Seq, ev.TaskRun, ev.Step, ev.Entity, ev.Location)
		case "finished":
			if ev.Code != "" {
				fmt.Fprintf(w, "  [%d] %s %s %s: %s\n", ev.Seq, ev.TaskRun, ev.Outcome, ev.Code, ev.Message)
			} else {
				fmt.Fprintf(w, "  [%d] %s %s\n", ev.Seq, ev.TaskRun, ev.Outcome)
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Updates:    %d\n", result.Stats.Updates)
	fmt.Fprintf(w, "  Dispatches: %d\n", result.Stats.Dispatches)
	fmt.Fprintf(w, "  Succeeded:  %d\n", result.Stats.Succeeded)
	fmt.Fprintf(w, "  Failed:     %d\n", result.Stats.Failed)
	fmt.Fprintf(w, "  Cancelled:  %d\n", result.Stats.Cancelled)
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
