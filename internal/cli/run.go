package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iml130/mf-plugin/internal/config"
	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/ir"
	"github.com/iml130/mf-plugin/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Database string
	RunID    string
	Resume   bool
	Hooks    []string

	// IDGenerator overrides task run ids (for testing).
	IDGenerator engine.IDGenerator
}

// InputSignal is one line read from stdin. Exactly one of Instance, Done,
// Cancel and Stop is set.
type InputSignal struct {
	Instance string          `json:"instance,omitempty"`
	Field    string          `json:"field,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Done     string          `json:"done,omitempty"`
	Cancel   string          `json:"cancel,omitempty"`
	Stop     bool            `json:"stop,omitempty"`
}

// OutputEvent is one line written to stdout.
type OutputEvent struct {
	Type     string              `json:"type"` // dispatch, failure, finished or hook
	Seq      int64               `json:"seq,omitempty"`
	Dispatch *engine.Dispatch    `json:"dispatch,omitempty"`
	Failure  *engine.TaskFailure `json:"failure,omitempty"`
	Task     *engine.Transition  `json:"task,omitempty"`
	Hook     *engine.HookCall    `json:"hook,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <program.cue>",
		Short: "Run a program until every task run finishes",
		Long: `Run a program against a fleet of transport entities.

Signals are read from stdin, one JSON object per line:

  {"instance":"event1","field":"value","value":true}
  {"done":"<step-run-id>"}
  {"cancel":"<task-run-id>"}
  {"stop":true}

Dispatches, failures and finished task runs are written to stdout, one
JSON object per line. Every tick is recorded in the run database, and
the final state is saved as a snapshot that --resume continues from.

Examples:
  mfexec run --config plant.yaml --db ./runs.db plant.cue
  mfexec run --db ./runs.db --run 0190c3e2-... --resume plant.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to the configuration file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: store.path from the configuration)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: a new UUIDv7)")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "continue --run from its latest snapshot")
	cmd.Flags().StringSliceVar(&opts.Hooks, "hook", nil, "hook statement kinds to echo to stdout and complete")

	return cmd
}

func runEngine(opts *RunOptions, path string, cmd *cobra.Command) error {
	configureLogging(cmd.ErrOrStderr(), opts.Verbose, slog.LevelInfo)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Store.Path
	}
	if dbPath == "" {
		return NewExitError(ExitCommandError, "no database: pass --db or set store.path")
	}
	if opts.Resume && opts.RunID == "" {
		return NewExitError(ExitCommandError, "--resume requires --run")
	}

	program, err := loadValidProgram(path)
	if err != nil {
		return err
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := &eventWriter{enc: json.NewEncoder(cmd.OutOrStdout())}
	eng, runID, err := openRun(ctx, opts, cfg, program, st, out)
	if err != nil {
		return err
	}

	go readSignals(cmd.InOrStdin(), eng)

	slog.Info("run started", "run", runID, "db", dbPath, "program", program.Hash)
	err = eng.Run(ctx, out.report)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	// The run context may be cancelled already.
	hash, serr := st.SaveSnapshot(context.Background(), runID, eng.Snapshot())
	if serr != nil {
		return WrapExitError(ExitCommandError, "failed to save snapshot", serr)
	}
	slog.Info("run stopped", "run", runID, "snapshot", hash, "done", eng.Done())

	for _, rec := range eng.Records() {
		if rec.Entry && rec.Outcome == engine.OutcomeFailed {
			return NewExitError(ExitFailure, fmt.Sprintf("%s: entry task %s failed", ErrCodeTaskFailed, rec.Task))
		}
	}
	return nil
}

// openRun creates or restores the engine for the run.
func openRun(ctx context.Context, opts *RunOptions, cfg config.Config, program *ir.Program, st *store.Store, out *eventWriter) (*engine.Engine, string, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.Must(uuid.NewV7()).String()
	}

	engOpts := cfg.EngineOptions(cfg.NewFleet())
	engOpts = append(engOpts, engine.WithRecorder(st, runID))
	if opts.IDGenerator != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	for _, kind := range opts.Hooks {
		engOpts = append(engOpts, engine.WithStatementHook(kind, out.hook()))
	}

	if !opts.Resume {
		if err := st.CreateRun(ctx, store.NewRun(runID, program)); err != nil {
			return nil, "", WrapExitError(ExitCommandError, "failed to record run", err)
		}
		eng, err := engine.New(program, engOpts...)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "failed to create engine", err)
		}
		return eng, runID, nil
	}

	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, ErrCodeRunNotFound, err)
	}
	if run.ProgramHash != program.Hash {
		return nil, "", NewExitError(ExitCommandError, fmt.Sprintf("run %s was started from program %s", runID, run.ProgramHash))
	}
	snap, hash, err := st.LatestSnapshot(ctx, runID)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, ErrCodeNoSnapshot, err)
	}
	eng, err := engine.Restore(program, snap, engOpts...)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "failed to restore run", err)
	}
	slog.Info("run resumed", "run", runID, "snapshot", hash, "seq", snap.Seq)
	return eng, runID, nil
}

// signalContext is cancelled on SIGINT/SIGTERM or when the command's
// context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// readSignals applies stdin lines to the engine until EOF.
func readSignals(r io.Reader, eng *engine.Engine) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := applySignal(eng, line); err != nil {
			slog.Warn("signal rejected", "line", string(line), "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("reading signals failed", "error", err)
	}
}

// applySignal decodes one input line and hands it to the engine.
func applySignal(eng *engine.Engine, line []byte) error {
	var sig InputSignal
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sig); err != nil {
		return fmt.Errorf("%s: %w", ErrCodeInvalidInput, err)
	}

	switch {
	case sig.Instance != "":
		if len(sig.Value) == 0 {
			return fmt.Errorf("%s: value is required", ErrCodeInvalidInput)
		}
		v, err := ir.UnmarshalValue(sig.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", ErrCodeInvalidInput, err)
		}
		field := sig.Field
		if field == "" {
			field = ir.FieldValue
		}
		return eng.SetValue(sig.Instance, field, v)
	case sig.Done != "":
		return eng.ReportStepDone(sig.Done)
	case sig.Cancel != "":
		return eng.Cancel(sig.Cancel)
	case sig.Stop:
		eng.Stop()
		return nil
	default:
		return fmt.Errorf("%s: one of instance, done, cancel or stop is required", ErrCodeInvalidInput)
	}
}

// eventWriter writes OutputEvents as JSON lines. Hooks and reports are
// both called from the engine's Run loop.
type eventWriter struct {
	enc *json.Encoder
}

func (w *eventWriter) write(ev OutputEvent) {
	if err := w.enc.Encode(ev); err != nil {
		slog.Error("writing output failed", "type", ev.Type, "error", err)
	}
}

// report writes the dispatches, failures and finished task runs of a
// tick.
func (w *eventWriter) report(rep *engine.TickReport) {
	for i := range rep.Dispatches {
		w.write(OutputEvent{Type: "dispatch", Seq: rep.Seq, Dispatch: &rep.Dispatches[i]})
	}
	for i := range rep.Failures {
		w.write(OutputEvent{Type: "failure", Seq: rep.Seq, Failure: &rep.Failures[i]})
	}
	for i, tr := range rep.Transitions {
		if tr.Kind == engine.EntityTask && tr.Outcome != engine.OutcomeNone {
			w.write(OutputEvent{Type: "finished", Seq: rep.Seq, Task: &rep.Transitions[i]})
		}
	}
}

// hook echoes the statement on its first poll and completes.
func (w *eventWriter) hook() engine.StatementHook {
	return engine.StatementHookFunc(func(ctx context.Context, call engine.HookCall) (bool, error) {
		if call.First {
			w.write(OutputEvent{Type: "hook", Hook: &call})
		}
		return true, nil
	})
}
