package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/iml130/mf-plugin/internal/assign"
	"github.com/iml130/mf-plugin/internal/gate"
	"github.com/iml130/mf-plugin/internal/ir"
	"github.com/iml130/mf-plugin/internal/timer"
)

// Causes recorded on task runs.
const (
	CauseEntry  = "entry"
	CauseCall   = "call"
	CauseOnDone = "on_done"
)

// tick carries per-tick state through the advance functions.
type tick struct {
	ctx context.Context
	rep *TickReport
}

// Tick runs one scheduling step at wall time now.
//
// Signals queued before the call are applied first. Every gate polled
// afterwards sees that state; writes posted during the tick wait for the
// next one. Task runs spawned during the tick (OnDone, task calls) are
// first advanced on the next tick.
func (e *Engine) Tick(ctx context.Context, now time.Time) (*TickReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t := &tick{ctx: ctx, rep: &TickReport{}}
	if !e.started {
		if err := e.begin(t, now); err != nil {
			return nil, err
		}
	}
	if el := now.Sub(e.start).Seconds(); el > e.elapsed {
		e.elapsed = el
	}
	t.rep.Seq = e.clock.Next()
	t.rep.Elapsed = e.elapsed

	for _, f := range e.timers.Due(now) {
		e.signals.Push(signal{
			kind:     signalSetValue,
			instance: f.Instance,
			field:    ir.FieldValue,
			value:    ir.Bool(true),
			source:   "timer",
		})
	}
	e.applySignals(t)

	n := len(e.runs)
	for i := 0; i < n; i++ {
		e.advanceTask(t, e.runs[i])
	}

	if e.recorder != nil && !t.rep.Empty() {
		if err := e.recorder.RecordTick(ctx, e.runID, t.rep); err != nil {
			slog.Error("record tick failed", "seq", t.rep.Seq, "error", err)
		}
	}
	return t.rep, nil
}

// begin anchors elapsed time and instantiates the entry task, unless the
// engine was restored from a snapshot.
func (e *Engine) begin(t *tick, now time.Time) error {
	timers, err := timer.New(e.program, now)
	if err != nil {
		return err
	}
	e.timers = timers
	e.started = true

	if e.restored != nil {
		e.timers.Restore(e.restored.Timers)
		e.start = now.Add(-time.Duration(e.restored.Elapsed * float64(time.Second)))
		e.elapsed = e.restored.Elapsed
		e.restored = nil
		return nil
	}
	e.start = now
	e.spawn(t, e.program.Entry, "", CauseEntry, true)
	return nil
}

// applySignals drains the queue in arrival order.
func (e *Engine) applySignals(t *tick) {
	for _, sig := range e.signals.Drain() {
		switch sig.kind {
		case signalSetValue:
			e.instances.apply(sig.instance, sig.field, sig.value, e.elapsed)
			u := Update{Instance: sig.instance, Field: sig.field, Value: sig.value, Source: sig.source}
			t.rep.Updates = append(t.rep.Updates, u)
			e.hooks.instanceUpdated(u)
			slog.Debug("instance updated", "instance", sig.instance, "field", sig.field, "source", sig.source)

		case signalStepDone:
			s := e.findStep(sig.target)
			if s == nil || s.state.Terminal() {
				slog.Warn("step acknowledgement ignored", "step_run", sig.target)
				continue
			}
			s.acked = true

		case signalCancel:
			run, ok := e.byID[sig.target]
			if !ok || run.state.Terminal() {
				slog.Warn("cancel ignored", "task_run", sig.target)
				continue
			}
			e.terminate(t, run, OutcomeCancelled, nil)
			slog.Info("task cancelled", "task", run.task.Name, "run", run.id)

		case signalStop:
			for _, run := range e.runs {
				if !run.state.Terminal() {
					e.terminate(t, run, OutcomeCancelled, nil)
				}
			}
			slog.Info("all tasks cancelled")
		}
	}
}

func (e *Engine) findStep(id string) *stepRun {
	for _, run := range e.runs {
		for _, o := range run.orders {
			for _, s := range o.steps {
				if s.id == id {
					return s
				}
			}
		}
	}
	return nil
}

// spawn instantiates a task. Unknown tasks and quota exhaustion produce a
// run record that is already finished as failed.
func (e *Engine) spawn(t *tick, name, parent, cause string, entry bool) *taskRun {
	id := e.idGen.Generate()
	task, ok := e.program.Tasks[name]
	if !ok {
		run := newTaskRun(id, &ir.Task{Name: name}, parent, cause, entry, e.program)
		e.addRun(run)
		e.failTask(t, run, &RuntimeError{
			Code:    ErrCodeUnknownTask,
			Message: fmt.Sprintf("task %q is not declared", name),
			TaskRun: id,
			Task:    name,
			Order:   -1,
		})
		return run
	}

	run := newTaskRun(id, task, parent, cause, entry, e.program)
	e.addRun(run)
	if err := e.quota.Check(name, id); err != nil {
		e.failTask(t, run, err)
		return run
	}
	slog.Debug("task instantiated", "task", name, "run", id, "cause", cause, "parent", parent)
	return run
}

func (e *Engine) addRun(run *taskRun) {
	e.runs = append(e.runs, run)
	e.byID[run.id] = run
}

func (e *Engine) advanceTask(t *tick, run *taskRun) {
	for {
		switch run.state {
		case TaskWaiting:
			if !run.entry {
				if e.eligible != nil && !e.eligible(run.task.Name) {
					return
				}
				st, err := run.startGate.Poll(e.eval, e.instances)
				if err != nil {
					e.failTask(t, run, e.gateError(run, -1, "", err))
					return
				}
				if st == gate.Pending {
					return
				}
			}
			e.setTaskState(t, run, TaskEligible)

		case TaskEligible:
			e.setTaskState(t, run, TaskRunning)
			slog.Info("task started", "task", run.task.Name, "run", run.id)
			e.hooks.taskStarted(e.taskEvent(run))

		case TaskRunning:
			done, err := e.advanceStatements(t, run)
			if err != nil {
				e.failTask(t, run, err)
				return
			}
			if !done {
				return
			}
			if !run.entry {
				st, err := run.finishGate.Poll(e.eval, e.instances)
				if err != nil {
					e.failTask(t, run, e.gateError(run, -1, "", err))
					return
				}
				if st == gate.Pending {
					return
				}
			}
			e.finish(t, run, OutcomeSucceeded, nil)
			slog.Info("task finished", "task", run.task.Name, "run", run.id)
			return

		default:
			return
		}
	}
}

// advanceStatements executes statements in declaration order and reports
// whether all of them completed.
func (e *Engine) advanceStatements(t *tick, run *taskRun) (bool, error) {
	for run.pc < len(run.task.Statements) {
		var (
			done bool
			err  error
		)
		switch s := run.task.Statements[run.pc].(type) {
		case *ir.TransportOrder, *ir.MoveOrder, *ir.ActionOrder:
			done, err = e.advanceOrder(t, run, run.orders[run.pc])
		case *ir.TaskCall:
			done, err = e.advanceCall(t, run, s)
		case *ir.HookStatement:
			done, err = e.advanceHook(t, run, s)
		default:
			err = fmt.Errorf("unsupported statement %T", s)
		}
		if err != nil || !done {
			return false, err
		}
		run.pc++
		run.hookPolled = false
	}
	return true, nil
}

func (e *Engine) advanceOrder(t *tick, run *taskRun, o *orderRun) (bool, error) {
	for {
		switch o.state {
		case OrderPending:
			if o.kind == ir.StepTransport {
				ok, err := e.assignTransport(t, run, o)
				if err != nil || !ok {
					return false, err
				}
				continue
			}
			if run.entity == "" {
				return false, &RuntimeError{
					Code:    ErrCodeNoAssignedEntity,
					Message: fmt.Sprintf("%s order has no preceding Transport order", o.kind),
					TaskRun: run.id,
					Task:    run.task.Name,
					Order:   o.index,
					Step:    o.steps[0].decl.Name,
				}
			}
			o.entity = run.entity
			e.setOrderState(t, run, o, OrderAssigned)

		case OrderAssigned:
			e.setOrderState(t, run, o, OrderExecuting)
			e.hooks.orderStarted(e.orderEvent(run, o))

		case OrderExecuting:
			done, err := e.advanceSteps(t, run, o)
			if err != nil || !done {
				return false, err
			}
			e.setOrderState(t, run, o, OrderCompleted)
			e.hooks.orderFinished(e.orderEvent(run, o))
			return true, nil

		case OrderCompleted:
			return true, nil

		default:
			return false, nil
		}
	}
}

// assignTransport asks the assigner for an entity and pickup order.
// Retryable failures leave the order Pending for the next tick.
func (e *Engine) assignTransport(t *tick, run *taskRun, o *orderRun) (bool, error) {
	// The entity of an earlier Transport is idle once its order completed.
	if run.entity != "" {
		e.fleet.Release(run.entity, run.id, run.location)
		run.entity = ""
	}

	plan, err := e.assigner.Assign(e.request(run, o))
	if err != nil {
		if assign.IsRetryable(err) {
			slog.Debug("assignment deferred", "task", run.task.Name, "run", run.id, "order", o.index, "reason", err)
			return false, nil
		}
		e.setOrderState(t, run, o, OrderAssigning)
		code := ErrCodeInfeasible
		if assign.IsNoEligibleEntity(err) {
			code = ErrCodeNoEligibleEntity
		}
		return false, &RuntimeError{
			Code:    code,
			Message: "transport order cannot be assigned",
			TaskRun: run.id,
			Task:    run.task.Name,
			Order:   o.index,
			Err:     err,
		}
	}
	if err := e.fleet.Commit(plan.Entity, run.id); err != nil {
		slog.Warn("entity commit failed", "entity", plan.Entity, "run", run.id, "error", err)
		return false, nil
	}

	e.setOrderState(t, run, o, OrderAssigning)
	o.applyPlan(plan)
	run.entity = plan.Entity
	e.setOrderState(t, run, o, OrderAssigned)
	slog.Info("transport assigned",
		"task", run.task.Name,
		"run", run.id,
		"entity", plan.Entity,
		"sequence", plan.Sequence,
		"distance", plan.Distance,
	)
	return true, nil
}

// request describes a pending transport to the assigner. Every stop
// budgets the service time; stops whose gates would not pass right now
// also budget the gate wait estimate.
func (e *Engine) request(run *taskRun, o *orderRun) assign.Request {
	stops := make([]assign.Stop, len(o.steps))
	pending := false
	for i, s := range o.steps {
		wait := e.serviceTime
		if e.gateWait > 0 && !(s.startGate.Peek(e.eval, e.instances) && s.finishGate.Peek(e.eval, e.instances)) {
			wait += e.gateWait
			pending = true
		}
		stops[i] = assign.Stop{Step: s.decl.Name, Location: s.decl.Location, Wait: wait}
	}
	last := len(stops) - 1
	return assign.Request{
		Order:        orderID(run.id, o.index),
		Pickups:      stops[:last],
		Delivery:     stops[last],
		Constraints:  e.constraints[run.task.Name],
		Now:          e.elapsed,
		PendingGates: pending,
	}
}

// advanceSteps drives the steps of an executing order one after another.
func (e *Engine) advanceSteps(t *tick, run *taskRun, o *orderRun) (bool, error) {
	for s := o.current(); s != nil; s = o.current() {
		done, err := e.advanceStep(t, run, o, s)
		if err != nil || !done {
			return false, err
		}
		o.cur++
	}
	return true, nil
}

func (e *Engine) advanceStep(t *tick, run *taskRun, o *orderRun, s *stepRun) (bool, error) {
	for {
		switch s.state {
		case StepPending:
			e.setStepState(t, s, StepGatedStart)

		case StepGatedStart:
			st, err := s.startGate.Poll(e.eval, e.instances)
			if err != nil {
				return false, e.gateError(run, o.index, s.decl.Name, err)
			}
			if st == gate.Pending {
				return false, nil
			}
			e.setStepState(t, s, StepActive)
			if s.decl.Location != "" {
				run.location = s.decl.Location
			}
			d := e.dispatch(run, o, s)
			t.rep.Dispatches = append(t.rep.Dispatches, d)
			e.hooks.stepActive(d)
			slog.Info("step dispatched", "step", s.decl.Name, "run", run.id, "assignee", d.Assignee, "location", d.Location)

		case StepActive:
			if e.awaitAck && !s.acked {
				return false, nil
			}
			e.setStepState(t, s, StepGatedFinish)

		case StepGatedFinish:
			st, err := s.finishGate.Poll(e.eval, e.instances)
			if err != nil {
				return false, e.gateError(run, o.index, s.decl.Name, err)
			}
			if st == gate.Pending {
				return false, nil
			}
			e.setStepState(t, s, StepDone)
			e.hooks.stepDone(e.dispatch(run, o, s))
			if s.decl.OnDone != "" {
				e.spawn(t, s.decl.OnDone, run.id, CauseOnDone, false)
			}
			return true, nil

		case StepDone:
			return true, nil

		default:
			return false, nil
		}
	}
}

// advanceCall starts the called task once and waits for it to finish.
func (e *Engine) advanceCall(t *tick, run *taskRun, call *ir.TaskCall) (bool, error) {
	if run.child == "" {
		run.child = e.spawn(t, call.Task, run.id, CauseCall, false).id
	}
	child := e.byID[run.child]
	if !child.state.Terminal() {
		return false, nil
	}
	run.child = ""
	if child.outcome != OutcomeSucceeded {
		return false, &RuntimeError{
			Code:    ErrCodeTaskCallFailed,
			Message: fmt.Sprintf("called task %s finished %s", call.Task, child.outcome),
			TaskRun: run.id,
			Task:    run.task.Name,
			Order:   run.pc,
			Err:     child.err,
		}
	}
	return true, nil
}

func (e *Engine) advanceHook(t *tick, run *taskRun, h *ir.HookStatement) (bool, error) {
	hook, ok := e.stmtHooks[h.Kind]
	if !ok {
		return false, &RuntimeError{
			Code:    ErrCodeHookFailed,
			Message: fmt.Sprintf("no hook registered for %q statements", h.Kind),
			TaskRun: run.id,
			Task:    run.task.Name,
			Order:   run.pc,
		}
	}
	first := !run.hookPolled
	run.hookPolled = true
	done, err := hook.Step(t.ctx, HookCall{
		TaskRun: run.id,
		Task:    run.task.Name,
		Kind:    h.Kind,
		Payload: h.Payload,
		Entity:  run.entity,
		First:   first,
	})
	if err != nil {
		return false, &RuntimeError{
			Code:    ErrCodeHookFailed,
			Message: fmt.Sprintf("%s hook failed", h.Kind),
			TaskRun: run.id,
			Task:    run.task.Name,
			Order:   run.pc,
			Err:     err,
		}
	}
	return done, nil
}

// failTask finishes run as failed and reports it.
func (e *Engine) failTask(t *tick, run *taskRun, err error) {
	e.terminate(t, run, OutcomeFailed, err)
	f := TaskFailure{
		TaskRun: run.id,
		Task:    run.task.Name,
		Code:    ErrorCode(err),
		Cause:   CauseCode(err),
		Message: err.Error(),
	}
	if f.Cause == f.Code {
		f.Cause = ""
	}
	t.rep.Failures = append(t.rep.Failures, f)
	slog.Error("task failed", "task", run.task.Name, "run", run.id, "code", f.Code, "error", err)
}

// terminate ends a run early. Non-terminal orders and steps are cancelled;
// when failing, the order being executed is marked Failed instead. A task
// being called is cancelled with its caller.
func (e *Engine) terminate(t *tick, run *taskRun, outcome Outcome, err error) {
	indexes := make([]int, 0, len(run.orders))
	for i := range run.orders {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		o := run.orders[i]
		if o.state.Terminal() {
			continue
		}
		for _, s := range o.steps {
			if !s.state.Terminal() {
				e.setStepState(t, s, StepCancelled)
			}
		}
		to := OrderCancelled
		if outcome == OutcomeFailed && i == run.pc {
			to = OrderFailed
		}
		e.setOrderState(t, run, o, to)
	}

	if run.child != "" {
		if child, ok := e.byID[run.child]; ok && !child.state.Terminal() {
			e.terminate(t, child, OutcomeCancelled, nil)
		}
	}
	e.finish(t, run, outcome, err)
}

// finish moves run to Finished and frees its entity.
func (e *Engine) finish(t *tick, run *taskRun, outcome Outcome, err error) {
	if run.entity != "" {
		e.fleet.Release(run.entity, run.id, run.location)
	}
	run.outcome = outcome
	run.err = err
	e.setTaskState(t, run, TaskFinished)
	e.hooks.taskFinished(e.taskEvent(run))
}

func (e *Engine) gateError(run *taskRun, order int, step string, err error) error {
	var ge *gate.Error
	msg := "gate could not be evaluated"
	if errors.As(err, &ge) {
		msg = fmt.Sprintf("%s gate of %s could not be evaluated", ge.Kind, ge.Owner)
	}
	return &RuntimeError{
		Code:    ErrCodeGateEvaluation,
		Message: msg,
		TaskRun: run.id,
		Task:    run.task.Name,
		Order:   order,
		Step:    step,
		Err:     err,
	}
}

func (e *Engine) setTaskState(t *tick, run *taskRun, to TaskState) {
	checkTransition(taskTransitions, "task", run.id, run.state, to)
	tr := Transition{Kind: EntityTask, ID: run.id, Name: run.task.Name, From: string(run.state), To: string(to)}
	if to == TaskFinished {
		tr.Outcome = run.outcome
	}
	t.rep.Transitions = append(t.rep.Transitions, tr)
	run.state = to
}

func (e *Engine) setOrderState(t *tick, run *taskRun, o *orderRun, to OrderState) {
	id := orderID(run.id, o.index)
	checkTransition(orderTransitions, "order", id, o.state, to)
	t.rep.Transitions = append(t.rep.Transitions, Transition{
		Kind: EntityOrder, ID: id, Name: string(o.kind), From: string(o.state), To: string(to),
	})
	o.state = to
}

func (e *Engine) setStepState(t *tick, s *stepRun, to StepState) {
	checkTransition(stepTransitions, "step", s.id, s.state, to)
	t.rep.Transitions = append(t.rep.Transitions, Transition{
		Kind: EntityStep, ID: s.id, Name: s.decl.Name, From: string(s.state), To: string(to),
	})
	s.state = to
}

func (e *Engine) dispatch(run *taskRun, o *orderRun, s *stepRun) Dispatch {
	return Dispatch{
		StepRun:    s.id,
		TaskRun:    run.id,
		Task:       run.task.Name,
		Order:      o.index,
		Step:       s.decl.Name,
		Kind:       s.decl.Kind,
		State:      s.state,
		Assignee:   o.entity,
		Location:   s.decl.Location,
		Parameters: s.decl.Parameters,
	}
}

func (e *Engine) taskEvent(run *taskRun) TaskEvent {
	return TaskEvent{TaskRun: run.id, Task: run.task.Name, Parent: run.parent, Outcome: run.outcome, Err: run.err}
}

func (e *Engine) orderEvent(run *taskRun, o *orderRun) OrderEvent {
	ev := OrderEvent{TaskRun: run.id, Task: run.task.Name, Order: o.index, Kind: o.kind, Entity: o.entity}
	for _, s := range o.steps {
		ev.Sequence = append(ev.Sequence, s.decl.Name)
	}
	return ev
}

func orderID(taskRun string, index int) string {
	return fmt.Sprintf("%s/%d", taskRun, index)
}
