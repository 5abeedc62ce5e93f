package harness

import (
	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/ir"
)

// Trace event types.
const (
	EventUpdate   = "update"
	EventDispatch = "dispatch"
	EventFailure  = "failure"
	EventFinished = "finished"
)

// TraceEvent is one observable effect of a tick.
type TraceEvent struct {
	Type     string   `json:"type"`
	Seq      int64    `json:"seq"`
	Task     string   `json:"task,omitempty"`
	TaskRun  string   `json:"task_run,omitempty"`
	Step     string   `json:"step,omitempty"`
	Entity   string   `json:"entity,omitempty"`
	Location string   `json:"location,omitempty"`
	Code     string   `json:"code,omitempty"`
	Cause    string   `json:"cause,omitempty"`
	Outcome  string   `json:"outcome,omitempty"`
	Instance string   `json:"instance,omitempty"`
	Field    string   `json:"field,omitempty"`
	Value    ir.Value `json:"value,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every tick expectation and assertion held.
	Pass bool `json:"pass"`

	// RunID is the id the run was recorded under.
	RunID string `json:"run_id"`

	// Trace lists the effects of every tick in order. Within a tick:
	// updates, dispatches, failures, then finished task runs.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Records is the final state of every task run.
	Records []engine.TaskRecord `json:"-"`

	// SnapshotHash is the content hash of the final snapshot.
	SnapshotHash string `json:"snapshot_hash"`
}

// NewResult creates a new passing result.
func NewResult(runID string) *Result {
	return &Result{
		Pass:   true,
		RunID:  runID,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddReport appends the effects of one tick to the trace.
func (r *Result) AddReport(rep *engine.TickReport) {
	for _, u := range rep.Updates {
		r.Trace = append(r.Trace, TraceEvent{
			Type: EventUpdate, Seq: rep.Seq,
			Instance: u.Instance, Field: u.Field, Value: u.Value, Source: u.Source,
		})
	}
	for _, d := range rep.Dispatches {
		r.Trace = append(r.Trace, TraceEvent{
			Type: EventDispatch, Seq: rep.Seq,
			Task: d.Task, TaskRun: d.TaskRun, Step: d.Step, Entity: d.Assignee, Location: d.Location,
		})
	}
	for _, f := range rep.Failures {
		r.Trace = append(r.Trace, TraceEvent{
			Type: EventFailure, Seq: rep.Seq,
			Task: f.Task, TaskRun: f.TaskRun, Code: f.Code, Cause: f.Cause,
		})
	}
	for _, tr := range rep.Transitions {
		if tr.Kind == engine.EntityTask && tr.Outcome != engine.OutcomeNone {
			r.Trace = append(r.Trace, TraceEvent{
				Type: EventFinished, Seq: rep.Seq,
				Task: tr.Name, TaskRun: tr.ID, Outcome: string(tr.Outcome),
			})
		}
	}
}
