package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/iml130/mf-plugin/internal/compiler"
	"github.com/iml130/mf-plugin/internal/config"
	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/ir"
	"github.com/iml130/mf-plugin/internal/store"
	"github.com/iml130/mf-plugin/internal/testutil"
)

// Harness executes one scenario.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.ManualClock
	runID  string
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database. The returned
// error reports setup problems (unreadable program, bad config); failed
// expectations are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	program, err := loadProgram(scenario)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	runID := testutil.RunID(scenario.Name)
	if err := st.CreateRun(ctx, store.NewRun(runID, program)); err != nil {
		return nil, err
	}

	opts := cfg.EngineOptions(cfg.NewFleet())
	opts = append(opts,
		engine.WithIDGenerator(testutil.NewSequence("task")),
		engine.WithRecorder(st, runID),
	)
	for kind, behaviour := range scenario.Hooks {
		opts = append(opts, engine.WithStatementHook(kind, scriptedHook(behaviour)))
	}
	eng, err := engine.New(program, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := &Harness{
		store:  st,
		engine: eng,
		clock:  testutil.NewManualClock(),
		runID:  runID,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := NewResult(runID)
	for i, step := range scenario.Ticks {
		if err := h.executeTick(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	result.Records = eng.Records()
	if result.SnapshotHash, err = st.SaveSnapshot(ctx, runID, eng.Snapshot()); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Store: st, Ctx: ctx, RunID: runID}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeTick queues the step's signals, ticks and checks expectations.
func (h *Harness) executeTick(ctx context.Context, index int, step TickStep, result *Result) error {
	for j, sig := range step.Signals {
		if err := h.apply(sig); err != nil {
			result.AddError(fmt.Sprintf("ticks[%d].signals[%d]: %v", index, j, err))
		}
	}

	rep, err := h.engine.Tick(ctx, h.clock.Set(step.At))
	if err != nil {
		return fmt.Errorf("tick %d: %w", index, err)
	}
	result.AddReport(rep)
	h.logger.Info("tick executed",
		"index", index,
		"seq", rep.Seq,
		"dispatches", len(rep.Dispatches),
		"failures", len(rep.Failures),
	)

	if step.Expect == nil {
		return nil
	}
	if want := step.Expect.Dispatches; want != nil {
		got := make([]string, 0, len(rep.Dispatches))
		for _, d := range rep.Dispatches {
			got = append(got, d.Step)
		}
		if !slices.Equal(want, got) {
			result.AddError(fmt.Sprintf("ticks[%d]: dispatches = %v, expected %v", index, got, want))
		}
	}
	if want := step.Expect.Failures; want != nil {
		got := make([]string, 0, len(rep.Failures))
		for _, f := range rep.Failures {
			got = append(got, f.Code)
		}
		if !slices.Equal(want, got) {
			result.AddError(fmt.Sprintf("ticks[%d]: failures = %v, expected %v", index, got, want))
		}
	}
	return nil
}

func (h *Harness) apply(sig Signal) error {
	switch {
	case sig.Set != "":
		v, err := ir.FromAny(sig.Value)
		if err != nil {
			return err
		}
		field := sig.Field
		if field == "" {
			field = ir.FieldValue
		}
		return h.engine.SetValue(sig.Set, field, v)
	case sig.Done != "":
		return h.engine.ReportStepDone(sig.Done)
	case sig.Cancel != "":
		return h.engine.Cancel(sig.Cancel)
	default:
		h.engine.Stop()
		return nil
	}
}

func loadProgram(s *Scenario) (*ir.Program, error) {
	p, err := compiler.CompileFile(s.Program)
	if err != nil {
		return nil, err
	}
	if errs := compiler.Validate(p); len(errs) > 0 && !s.AllowInvalid {
		return nil, fmt.Errorf("program %s is invalid: %w", s.Program, errs[0])
	}
	return p, nil
}

func loadConfig(s *Scenario) (config.Config, error) {
	if s.Config.Kind == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(&s.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return config.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	return cfg, nil
}

var errScriptedHook = errors.New("hook failed")

// scriptedHook completes or fails on its first poll.
func scriptedHook(behaviour string) engine.StatementHook {
	return engine.StatementHookFunc(func(ctx context.Context, call engine.HookCall) (bool, error) {
		if behaviour == HookFail {
			return false, fmt.Errorf("%s: %w", call.Kind, errScriptedHook)
		}
		return true, nil
	})
}
