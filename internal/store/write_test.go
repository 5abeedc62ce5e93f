package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/ir"
)

func dispatchSteps(ds []engine.Dispatch) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Step)
	}
	return out
}

func TestRecordTick_FullRun(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	e := recordedEngine(t, s)

	tickAt(t, e, 0)
	require.NoError(t, e.SetValue("event1", ir.FieldValue, ir.Bool(true)))
	tickAt(t, e, 5)
	require.True(t, e.Done())

	dispatches, err := s.ReadDispatches(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"pick_b", "pick_a", "deliver", "beep"}, dispatchSteps(dispatches))
	for _, d := range dispatches {
		assert.Equal(t, "agv1", d.Assignee)
		assert.Equal(t, engine.StepActive, d.State)
	}
	assert.Equal(t, ir.Object{"tone": ir.String("short")}, dispatches[3].Parameters)
	assert.Nil(t, dispatches[0].Parameters)
	assert.Equal(t, "b", dispatches[0].Location)

	mine, err := s.ReadDispatchesFor(ctx, "run-a", "agv1")
	require.NoError(t, err)
	assert.Len(t, mine, 4)
	none, err := s.ReadDispatchesFor(ctx, "run-a", "agv2")
	require.NoError(t, err)
	assert.Empty(t, none)

	outcomes, err := s.ReadOutcomes(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ir.DefaultEntry, outcomes[0].Task)
	assert.Equal(t, engine.OutcomeSucceeded, outcomes[0].Outcome)
	assert.Equal(t, int64(2), outcomes[0].Seq)
	assert.Empty(t, outcomes[0].Code)

	updates, err := s.ReadUpdates(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "event1", updates[0].Instance)
	assert.Equal(t, ir.Bool(true), updates[0].Value)

	transitions, err := s.ReadTransitions(ctx, "run-a")
	require.NoError(t, err)
	require.NotEmpty(t, transitions)
	assert.Equal(t, engine.EntityTask, transitions[0].Kind)
	assert.Equal(t, string(engine.TaskWaiting), transitions[0].From)
	last := transitions[len(transitions)-1]
	assert.Equal(t, string(engine.TaskFinished), last.To)
	for i := 1; i < len(transitions); i++ {
		assert.LessOrEqual(t, transitions[i-1].Seq, transitions[i].Seq)
	}
}

func TestRecordTick_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateRun(ctx, Run{ID: "r", ProgramHash: "h", Entry: "main"}))

	rep := &engine.TickReport{
		Seq: 1,
		Dispatches: []engine.Dispatch{
			{StepRun: "s1", TaskRun: "t1", Task: "main", Step: "pick", Kind: ir.StepTransport, State: engine.StepActive, Assignee: "agv1"},
		},
		Transitions: []engine.Transition{
			{Kind: engine.EntityTask, ID: "t1", Name: "main", From: "Running", To: "Finished", Outcome: engine.OutcomeFailed},
		},
		Failures: []engine.TaskFailure{
			{TaskRun: "t1", Task: "main", Code: string(engine.ErrCodeGateEvaluation), Cause: "TypeMismatch", Message: "boom"},
		},
	}
	require.NoError(t, s.RecordTick(ctx, "r", rep))
	require.NoError(t, s.RecordTick(ctx, "r", rep))

	dispatches, err := s.ReadDispatches(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, dispatches, 1)

	outcomes, err := s.ReadOutcomes(ctx, "r")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, Outcome{
		TaskRun: "t1", Task: "main", Seq: 1, Outcome: engine.OutcomeFailed,
		Code: string(engine.ErrCodeGateEvaluation), Cause: "TypeMismatch", Message: "boom",
	}, outcomes[0])
}

func TestRecordTick_UnknownRun(t *testing.T) {
	s := createTestStore(t)
	err := s.RecordTick(context.Background(), "ghost", &engine.TickReport{Seq: 1})
	assert.Error(t, err, "foreign key rejects ticks of unknown runs")
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)

	p := lineProgram()
	require.NoError(t, s.CreateRun(ctx, NewRun("b", p)))
	require.NoError(t, s.CreateRun(ctx, NewRun("a", p)))
	require.NoError(t, s.CreateRun(ctx, NewRun("a", p)))

	runs, err = s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].ID)
	assert.Equal(t, "sha256:line", runs[0].ProgramHash)
	assert.Equal(t, ir.EngineVersion, runs[0].EngineVersion)

	got, err := s.GetRun(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, ir.DefaultEntry, got.Entry)

	_, err = s.GetRun(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}
