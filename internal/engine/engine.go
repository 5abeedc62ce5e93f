package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iml130/mf-plugin/internal/assign"
	"github.com/iml130/mf-plugin/internal/eval"
	"github.com/iml130/mf-plugin/internal/ir"
	"github.com/iml130/mf-plugin/internal/timer"
)

// DefaultTickInterval is how often Run ticks when no signal arrives.
const DefaultTickInterval = 500 * time.Millisecond

// Engine executes one material-flow program.
//
// The engine is a polled state machine. Each Tick applies queued external
// input, then advances every task run against that one consistent
// instance state: task gates, order assignment, step gates, OnDone
// spawning. Nothing blocks inside a tick; a gate that is not yet
// satisfied simply leaves its step where it is.
//
// Thread-safety model:
//   - SetValue, ReportStepDone, Cancel, Stop: safe from any goroutine
//   - Tick / Run: must be driven from exactly one goroutine
//   - Records, Snapshot, Done: safe from any goroutine (take the state lock)
type Engine struct {
	program   *ir.Program
	eval      *eval.Evaluator
	assigner  *assign.Assigner
	instances *instanceStore
	signals   *signalQueue
	clock     *Clock
	idGen     IDGenerator
	quota     *instanceQuota
	timers    *timer.Schedule

	constraints map[string]*assign.Constraints // by task name

	hooks        Hooks
	stmtHooks    map[string]StatementHook
	eligible     func(task string) bool
	recorder     Recorder
	runID        string
	awaitAck     bool
	gateWait     float64
	serviceTime  float64
	tickInterval time.Duration

	// settings captured by options before construction of collaborators
	fleet       *assign.Fleet
	topology    assign.Topology
	maxDepth    int
	maxExact    int
	maxInstance int

	mu      sync.Mutex
	started bool
	start   time.Time
	elapsed float64
	runs    []*taskRun
	byID    map[string]*taskRun

	// restored holds state from a snapshot until the first tick.
	restored *Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithFleet sets the entities transports are assigned to.
func WithFleet(f *assign.Fleet) Option {
	return func(e *Engine) { e.fleet = f }
}

// WithTopology sets how distances are measured. The Euclidean positions
// of Location instances (x, y) are always consulted as a fallback.
func WithTopology(t assign.Topology) Option {
	return func(e *Engine) { e.topology = t }
}

// WithMaxCallDepth bounds nested rule calls (default eval.DefaultMaxDepth).
func WithMaxCallDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// WithMaxExactPickups bounds the exhaustive pickup-order search.
func WithMaxExactPickups(n int) Option {
	return func(e *Engine) { e.maxExact = n }
}

// WithMaxTaskInstances bounds the number of task runs (default
// DefaultMaxTaskInstances). 0 disables the limit.
func WithMaxTaskInstances(n int) Option {
	return func(e *Engine) { e.maxInstance = n }
}

// WithIDGenerator sets the task run id generator (default UUIDv7Generator).
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.idGen = g }
}

// WithHooks registers observer callbacks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithStatementHook registers the handler for hook statements of a kind.
func WithStatementHook(kind string, h StatementHook) Option {
	return func(e *Engine) { e.stmtHooks[kind] = h }
}

// WithEligibility installs a callback consulted before a waiting task run
// may become eligible. Returning false keeps it waiting.
func WithEligibility(fn func(task string) bool) Option {
	return func(e *Engine) { e.eligible = fn }
}

// WithRecorder persists every non-empty tick report under runID.
func WithRecorder(r Recorder, runID string) Option {
	return func(e *Engine) {
		e.recorder = r
		e.runID = runID
	}
}

// WithAwaitAgentAck keeps Active steps Active until ReportStepDone is
// called for them. Off by default: steps move to GatedFinish as soon as
// they are dispatched.
func WithAwaitAgentAck(on bool) Option {
	return func(e *Engine) { e.awaitAck = on }
}

// WithGateWaitEstimate sets the seconds the assigner budgets for a stop
// whose gate is not yet satisfied.
func WithGateWaitEstimate(seconds float64) Option {
	return func(e *Engine) { e.gateWait = seconds }
}

// WithServiceTime sets the seconds the assigner budgets for every stop.
func WithServiceTime(seconds float64) Option {
	return func(e *Engine) { e.serviceTime = seconds }
}

// WithTickInterval sets the Run loop period.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickInterval = d
		}
	}
}

// New creates an engine for program. The entry task is instantiated on
// the first Tick.
func New(program *ir.Program, opts ...Option) (*Engine, error) {
	if _, ok := program.EntryTask(); !ok {
		return nil, fmt.Errorf("program has no entry task %q", program.Entry)
	}

	e := &Engine{
		program:      program,
		signals:      newSignalQueue(),
		clock:        NewClock(),
		idGen:        UUIDv7Generator{},
		stmtHooks:    make(map[string]StatementHook),
		tickInterval: DefaultTickInterval,
		maxDepth:     eval.DefaultMaxDepth,
		maxExact:     assign.DefaultMaxExactPickups,
		maxInstance:  DefaultMaxTaskInstances,
		byID:         make(map[string]*taskRun),
		constraints:  make(map[string]*assign.Constraints),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.eval = eval.New(program.Rules, eval.WithMaxDepth(e.maxDepth))
	e.instances = newInstanceStore(program)
	e.quota = newInstanceQuota(e.maxInstance)

	if e.fleet == nil {
		e.fleet = assign.NewFleet()
	}
	topo := assign.Layered{}
	if e.topology != nil {
		topo = append(topo, e.topology)
	}
	topo = append(topo, locationPositions(program))
	e.assigner = assign.New(e.fleet, topo, assign.WithMaxExactPickups(e.maxExact))

	if _, err := timer.New(program, time.Now()); err != nil {
		return nil, err
	}
	for _, name := range program.TaskOrder {
		c, err := assign.Compile(program.Tasks[name].Constraints)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", name, err)
		}
		e.constraints[name] = c
	}
	return e, nil
}

// locationPositions collects x/y coordinates of Location instances.
func locationPositions(p *ir.Program) assign.Euclidean {
	pos := assign.Euclidean{}
	for _, name := range p.InstanceOrder {
		si := p.Instances[name]
		if si.Struct != ir.StructLocation {
			continue
		}
		x, xok := si.Fields[ir.FieldX].(ir.Number)
		y, yok := si.Fields[ir.FieldY].(ir.Number)
		if xok && yok {
			pos[name] = assign.Point{X: float64(x), Y: float64(y)}
		}
	}
	return pos
}

// Program returns the program being executed.
func (e *Engine) Program() *ir.Program { return e.program }

// Fleet returns the fleet transports are assigned from.
func (e *Engine) Fleet() *assign.Fleet { return e.fleet }

// SetValue posts an external write of one field of a struct instance,
// identified by program name or id attribute. The write is validated now
// and applied at the start of the next tick.
func (e *Engine) SetValue(structID, field string, v ir.Value) error {
	name, err := e.instances.validate(structID, field, v)
	if err != nil {
		return err
	}
	if !e.signals.Push(signal{kind: signalSetValue, instance: name, field: field, value: ir.CloneValue(v), source: "external"}) {
		return fmt.Errorf("engine stopped")
	}
	return nil
}

// ReportStepDone acknowledges that the entity finished the physical work
// of an active step (moved to location / executed action). Only consulted
// when WithAwaitAgentAck is on.
func (e *Engine) ReportStepDone(stepRunID string) error {
	if stepRunID == "" {
		return fmt.Errorf("empty step run id")
	}
	if !e.signals.Push(signal{kind: signalStepDone, target: stepRunID, source: "agent"}) {
		return fmt.Errorf("engine stopped")
	}
	return nil
}

// Cancel retracts a task run at the next tick.
func (e *Engine) Cancel(taskRunID string) error {
	if !e.signals.Push(signal{kind: signalCancel, target: taskRunID, source: "external"}) {
		return fmt.Errorf("engine stopped")
	}
	return nil
}

// Stop retracts every task run at the next tick.
func (e *Engine) Stop() {
	e.signals.Push(signal{kind: signalStop, source: "external"})
}

// Done reports whether the run has started and every task run finished.
func (e *Engine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doneLocked()
}

func (e *Engine) doneLocked() bool {
	if !e.started {
		return false
	}
	for _, r := range e.runs {
		if !r.state.Terminal() {
			return false
		}
	}
	return true
}

// Run ticks every interval, and immediately when signals arrive, until all
// task runs finish or ctx is cancelled. Reports go to sink when non-nil.
func (e *Engine) Run(ctx context.Context, sink func(*TickReport)) error {
	slog.Info("engine starting", "entry", e.program.Entry, "tasks", len(e.program.Tasks))

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		rep, err := e.Tick(ctx, time.Now())
		if err != nil {
			return err
		}
		if sink != nil && !rep.Empty() {
			sink(rep)
		}
		if e.Done() {
			slog.Info("engine finished", "ticks", e.clock.Current())
			e.signals.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		case <-e.signals.Wait():
		}
	}
}
