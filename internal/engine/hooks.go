package engine

import (
	"context"

	"github.com/iml130/mf-plugin/internal/ir"
)

// TaskEvent describes a task run lifecycle event.
type TaskEvent struct {
	TaskRun string
	Task    string
	Parent  string
	Outcome Outcome
	Err     error
}

// OrderEvent describes an order lifecycle event.
type OrderEvent struct {
	TaskRun  string
	Task     string
	Order    int
	Kind     ir.StepKind
	Entity   string
	Sequence []string
}

// Hooks are optional observer callbacks. They run on the tick goroutine
// while the engine holds its state lock, so they must not call back into
// the engine except through SetValue, ReportStepDone and Cancel.
type Hooks struct {
	TaskStarted     func(TaskEvent)
	TaskFinished    func(TaskEvent)
	OrderStarted    func(OrderEvent)
	OrderFinished   func(OrderEvent)
	StepActive      func(Dispatch)
	StepDone        func(Dispatch)
	InstanceUpdated func(Update)
}

func (h *Hooks) taskStarted(ev TaskEvent) {
	if h.TaskStarted != nil {
		h.TaskStarted(ev)
	}
}

func (h *Hooks) taskFinished(ev TaskEvent) {
	if h.TaskFinished != nil {
		h.TaskFinished(ev)
	}
}

func (h *Hooks) orderStarted(ev OrderEvent) {
	if h.OrderStarted != nil {
		h.OrderStarted(ev)
	}
}

func (h *Hooks) orderFinished(ev OrderEvent) {
	if h.OrderFinished != nil {
		h.OrderFinished(ev)
	}
}

func (h *Hooks) stepActive(d Dispatch) {
	if h.StepActive != nil {
		h.StepActive(d)
	}
}

func (h *Hooks) stepDone(d Dispatch) {
	if h.StepDone != nil {
		h.StepDone(d)
	}
}

func (h *Hooks) instanceUpdated(u Update) {
	if h.InstanceUpdated != nil {
		h.InstanceUpdated(u)
	}
}

// HookCall is handed to a StatementHook for each poll of a hook statement.
type HookCall struct {
	TaskRun string    `json:"task_run"`
	Task    string    `json:"task"`
	Kind    string    `json:"kind"`
	Payload ir.Object `json:"payload,omitempty"`
	Entity  string    `json:"entity,omitempty"`
	// First is true on the first poll of this statement instance.
	First bool `json:"first"`
}

// StatementHook executes non-transport statements. Step is polled once
// per tick until it reports done or fails.
type StatementHook interface {
	Step(ctx context.Context, call HookCall) (done bool, err error)
}

// StatementHookFunc adapts a function to StatementHook.
type StatementHookFunc func(ctx context.Context, call HookCall) (bool, error)

// Step implements StatementHook.
func (f StatementHookFunc) Step(ctx context.Context, call HookCall) (bool, error) {
	return f(ctx, call)
}

// Recorder persists tick reports. store.Store implements it.
type Recorder interface {
	RecordTick(ctx context.Context, runID string, rep *TickReport) error
}
