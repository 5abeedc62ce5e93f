package engine

import (
	"errors"
	"fmt"

	"github.com/iml130/mf-plugin/internal/assign"
	"github.com/iml130/mf-plugin/internal/gate"
	"github.com/iml130/mf-plugin/internal/ir"
	"github.com/iml130/mf-plugin/internal/timer"
)

// SnapshotVersion identifies the snapshot layout.
const SnapshotVersion = 1

// Snapshot is the complete resumable state of a run: every struct
// instance, every entity, the state machine of every task run and the
// next occurrence of every Time instance.
type Snapshot struct {
	Version     int                   `json:"version"`
	ProgramHash string                `json:"program_hash"`
	Seq         int64                 `json:"seq"`
	Elapsed     float64               `json:"elapsed"`
	Started     bool                  `json:"started"`
	Spawned     int                   `json:"spawned"`
	Instances   []*ir.StructInstance  `json:"instances"`
	Fleet       []assign.EntityStatus `json:"fleet"`
	Tasks       []TaskRecord          `json:"tasks"`
	Timers      []timer.State         `json:"timers,omitempty"`
}

// TaskRecord is the state of one task run. Failed runs carry their error.
type TaskRecord struct {
	ID            string        `json:"id"`
	Task          string        `json:"task"`
	Parent        string        `json:"parent,omitempty"`
	Cause         string        `json:"cause"`
	Entry         bool          `json:"entry,omitempty"`
	State         TaskState     `json:"state"`
	Outcome       Outcome       `json:"outcome,omitempty"`
	Error         *ErrorRecord  `json:"error,omitempty"`
	StartLatched  bool          `json:"start_latched,omitempty"`
	FinishLatched bool          `json:"finish_latched,omitempty"`
	PC            int           `json:"pc"`
	Child         string        `json:"child,omitempty"`
	HookPolled    bool          `json:"hook_polled,omitempty"`
	Entity        string        `json:"entity,omitempty"`
	Location      string        `json:"location,omitempty"`
	Orders        []OrderRecord `json:"orders,omitempty"`
}

// ErrorRecord is the structured error attached to a failed run.
type ErrorRecord struct {
	Code    string `json:"code"`
	Cause   string `json:"cause,omitempty"`
	Order   int    `json:"order"`
	Step    string `json:"step,omitempty"`
	Message string `json:"message"`
}

// OrderRecord is the state of one order of a task run.
type OrderRecord struct {
	Index   int          `json:"index"`
	Kind    ir.StepKind  `json:"kind"`
	State   OrderState   `json:"state"`
	Entity  string       `json:"entity,omitempty"`
	Plan    *assign.Plan `json:"plan,omitempty"`
	Current int          `json:"current"`
	Steps   []StepRecord `json:"steps"`
}

// StepRecord is the state of one order step, in execution order.
type StepRecord struct {
	ID            string    `json:"id"`
	Step          string    `json:"step"`
	State         StepState `json:"state"`
	StartLatched  bool      `json:"start_latched,omitempty"`
	FinishLatched bool      `json:"finish_latched,omitempty"`
	Acked         bool      `json:"acked,omitempty"`
}

// Records returns the state of every task run in creation order.
func (e *Engine) Records() []TaskRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recordsLocked()
}

// Record returns the state of one task run.
func (e *Engine) Record(taskRunID string) (TaskRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.byID[taskRunID]
	if !ok {
		return TaskRecord{}, false
	}
	return recordOf(run), true
}

// Instance returns a copy of a struct instance by program name or id.
func (e *Engine) Instance(key string) (*ir.StructInstance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name, ok := e.instances.resolve(key)
	if !ok {
		return nil, false
	}
	return e.instances.byName[name].Clone(), true
}

func (e *Engine) recordsLocked() []TaskRecord {
	out := make([]TaskRecord, 0, len(e.runs))
	for _, run := range e.runs {
		out = append(out, recordOf(run))
	}
	return out
}

func recordOf(run *taskRun) TaskRecord {
	rec := TaskRecord{
		ID:            run.id,
		Task:          run.task.Name,
		Parent:        run.parent,
		Cause:         run.cause,
		Entry:         run.entry,
		State:         run.state,
		Outcome:       run.outcome,
		StartLatched:  run.startGate.Satisfied(),
		FinishLatched: run.finishGate.Satisfied(),
		PC:            run.pc,
		Child:         run.child,
		HookPolled:    run.hookPolled,
		Entity:        run.entity,
		Location:      run.location,
	}
	if run.err != nil {
		rec.Error = errorRecord(run.err)
	}
	for i := range run.task.Statements {
		o, ok := run.orders[i]
		if !ok {
			continue
		}
		or := OrderRecord{
			Index:   o.index,
			Kind:    o.kind,
			State:   o.state,
			Entity:  o.entity,
			Plan:    o.plan,
			Current: o.cur,
		}
		for _, s := range o.steps {
			or.Steps = append(or.Steps, StepRecord{
				ID:            s.id,
				Step:          s.decl.Name,
				State:         s.state,
				StartLatched:  s.startGate.Satisfied(),
				FinishLatched: s.finishGate.Satisfied(),
				Acked:         s.acked,
			})
		}
		rec.Orders = append(rec.Orders, or)
	}
	return rec
}

func errorRecord(err error) *ErrorRecord {
	rec := &ErrorRecord{Code: ErrorCode(err), Cause: CauseCode(err), Order: -1, Message: err.Error()}
	if rec.Cause == rec.Code {
		rec.Cause = ""
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		rec.Order = re.Order
		rec.Step = re.Step
	}
	return rec
}

// Snapshot captures the run state between ticks.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := &Snapshot{
		Version:     SnapshotVersion,
		ProgramHash: e.program.Hash,
		Seq:         e.clock.Current(),
		Elapsed:     e.elapsed,
		Started:     e.started,
		Spawned:     e.quota.Current(),
		Instances:   e.instances.snapshot(),
		Fleet:       e.fleet.Statuses(),
		Tasks:       e.recordsLocked(),
	}
	if e.timers != nil {
		snap.Timers = e.timers.States()
	}
	return snap
}

// Restore creates an engine that resumes from snap. The fleet given via
// WithFleet is updated with the snapshot's positions and commitments.
// Elapsed time continues from the snapshot at the first Tick.
func Restore(program *ir.Program, snap *Snapshot, opts ...Option) (*Engine, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.ProgramHash != "" && program.Hash != "" && snap.ProgramHash != program.Hash {
		return nil, fmt.Errorf("snapshot was taken from program %s, not %s", snap.ProgramHash, program.Hash)
	}

	e, err := New(program, opts...)
	if err != nil {
		return nil, err
	}
	e.clock = NewClockAt(snap.Seq)
	e.instances.restore(snap.Instances)
	e.fleet.Restore(snap.Fleet)
	e.quota.current = snap.Spawned

	for _, rec := range snap.Tasks {
		run, err := e.restoreRun(rec)
		if err != nil {
			return nil, fmt.Errorf("task run %s: %w", rec.ID, err)
		}
		e.addRun(run)
	}
	if snap.Started {
		e.restored = snap
	}
	return e, nil
}

func (e *Engine) restoreRun(rec TaskRecord) (*taskRun, error) {
	task, ok := e.program.Tasks[rec.Task]
	if !ok {
		if rec.State != TaskFinished {
			return nil, fmt.Errorf("task %q is not declared", rec.Task)
		}
		task = &ir.Task{Name: rec.Task}
	}

	run := newTaskRun(rec.ID, task, rec.Parent, rec.Cause, rec.Entry, e.program)
	run.state = rec.State
	run.outcome = rec.Outcome
	run.pc = rec.PC
	run.child = rec.Child
	run.hookPolled = rec.HookPolled
	run.entity = rec.Entity
	run.location = rec.Location
	run.startGate = gate.Restore(gate.StartedBy, "task "+task.Name, task.StartedBy, rec.StartLatched)
	run.finishGate = gate.Restore(gate.FinishedBy, "task "+task.Name, task.FinishedBy, rec.FinishLatched)
	if rec.Error != nil {
		run.err = &RuntimeError{
			Code:    RuntimeErrorCode(rec.Error.Code),
			Message: rec.Error.Message,
			TaskRun: rec.ID,
			Task:    rec.Task,
			Order:   rec.Error.Order,
			Step:    rec.Error.Step,
		}
	}

	for _, or := range rec.Orders {
		o, ok := run.orders[or.Index]
		if !ok || o.kind != or.Kind {
			return nil, fmt.Errorf("order %d does not match the program", or.Index)
		}
		o.state = or.State
		o.entity = or.Entity
		o.plan = or.Plan
		o.cur = or.Current

		byName := make(map[string]*stepRun, len(o.steps))
		for _, s := range o.steps {
			byName[s.decl.Name] = s
		}
		steps := make([]*stepRun, 0, len(or.Steps))
		for _, sr := range or.Steps {
			s, ok := byName[sr.Step]
			if !ok {
				return nil, fmt.Errorf("order %d has no step %q", or.Index, sr.Step)
			}
			s.state = sr.State
			s.acked = sr.Acked
			s.startGate = gate.Restore(gate.StartedBy, "step "+sr.Step, s.decl.StartedBy, sr.StartLatched)
			s.finishGate = gate.Restore(gate.FinishedBy, "step "+sr.Step, s.decl.FinishedBy, sr.FinishLatched)
			steps = append(steps, s)
		}
		if len(steps) != len(o.steps) {
			return nil, fmt.Errorf("order %d has %d steps, snapshot has %d", or.Index, len(o.steps), len(steps))
		}
		o.steps = steps
	}
	return run, nil
}
