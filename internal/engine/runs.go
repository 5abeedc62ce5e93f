package engine

import (
	"github.com/iml130/mf-plugin/internal/assign"
	"github.com/iml130/mf-plugin/internal/gate"
	"github.com/iml130/mf-plugin/internal/ir"
)

// stepRun is one order step inside one order of one task run.
type stepRun struct {
	id         string
	decl       *ir.OrderStep
	state      StepState
	startGate  *gate.Gate
	finishGate *gate.Gate
	acked      bool
}

// orderRun is one Transport/Move/Action statement of a task run.
// Transport steps hold the pickups first (reordered on assignment),
// then the delivery.
type orderRun struct {
	index  int
	kind   ir.StepKind
	state  OrderState
	entity string
	steps  []*stepRun
	cur    int
	plan   *assign.Plan
}

// current returns the step being driven, or nil when all are done.
func (o *orderRun) current() *stepRun {
	if o.cur < len(o.steps) {
		return o.steps[o.cur]
	}
	return nil
}

// taskRun is one instantiation of a task.
type taskRun struct {
	id     string
	task   *ir.Task
	parent string
	cause  string // "entry", "call", "on_done"
	entry  bool

	state   TaskState
	outcome Outcome
	err     error

	startGate  *gate.Gate
	finishGate *gate.Gate

	// pc is the index of the statement being executed.
	pc     int
	orders map[int]*orderRun
	child  string // task run started by the current TaskCall

	// hookPolled is set once the current hook statement was polled.
	hookPolled bool

	// entity is the executing entity of the most recent Transport order;
	// location is where that entity was last sent.
	entity   string
	location string
}

func newTaskRun(id string, task *ir.Task, parent, cause string, entry bool, program *ir.Program) *taskRun {
	run := &taskRun{
		id:         id,
		task:       task,
		parent:     parent,
		cause:      cause,
		entry:      entry,
		state:      TaskWaiting,
		startGate:  gate.New(gate.StartedBy, "task "+task.Name, task.StartedBy),
		finishGate: gate.New(gate.FinishedBy, "task "+task.Name, task.FinishedBy),
		orders:     make(map[int]*orderRun),
	}
	for i, stmt := range task.Statements {
		if o := newOrderRun(id, i, stmt, program); o != nil {
			run.orders[i] = o
		}
	}
	return run
}

func newOrderRun(taskRun string, index int, stmt ir.Statement, program *ir.Program) *orderRun {
	var names []string
	var kind ir.StepKind
	switch s := stmt.(type) {
	case *ir.TransportOrder:
		kind = ir.StepTransport
		names = append(append(names, s.From...), s.To)
	case *ir.MoveOrder:
		kind = ir.StepMove
		names = []string{s.Step}
	case *ir.ActionOrder:
		kind = ir.StepAction
		names = []string{s.Step}
	default:
		return nil
	}

	o := &orderRun{index: index, kind: kind, state: OrderPending}
	for _, name := range names {
		decl, ok := program.Steps[name]
		if !ok {
			// Unknown steps are rejected by the compiler; keep a stub so a
			// hand-built program still fails visibly instead of panicking.
			decl = &ir.OrderStep{Name: name, Kind: kind}
		}
		o.steps = append(o.steps, &stepRun{
			id:         stepRunID(taskRun, index, name),
			decl:       decl,
			state:      StepPending,
			startGate:  gate.New(gate.StartedBy, "step "+name, decl.StartedBy),
			finishGate: gate.New(gate.FinishedBy, "step "+name, decl.FinishedBy),
		})
	}
	return o
}

// applyPlan reorders the pickups to the planned sequence.
func (o *orderRun) applyPlan(plan assign.Plan) {
	p := plan
	o.plan = &p
	o.entity = plan.Entity
	if len(o.steps) < 2 {
		return
	}
	byName := make(map[string]*stepRun, len(o.steps))
	pickups := o.steps[:len(o.steps)-1]
	for _, s := range pickups {
		byName[s.decl.Name] = s
	}
	ordered := make([]*stepRun, 0, len(o.steps))
	for _, name := range plan.Sequence {
		if s, ok := byName[name]; ok {
			ordered = append(ordered, s)
			delete(byName, name)
		}
	}
	// Anything the plan did not mention keeps declaration order.
	for _, s := range pickups {
		if _, left := byName[s.decl.Name]; left {
			ordered = append(ordered, s)
		}
	}
	o.steps = append(ordered, o.steps[len(o.steps)-1])
}
