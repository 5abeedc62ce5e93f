package ir

// Param is a rule parameter. A nil Default means the parameter is required.
type Param struct {
	Name    string
	Default Expr
}

// Rule is a named, parameterized boolean predicate. The body is an
// implicit AND of its expressions.
type Rule struct {
	Name   string
	Params []Param
	Body   []Expr
}

// ParamIndex returns the position of the named parameter or -1.
func (r *Rule) ParamIndex(name string) int {
	for i, p := range r.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// StepKind distinguishes the three order-step flavors.
type StepKind string

const (
	StepTransport StepKind = "transport"
	StepMove      StepKind = "move"
	StepAction    StepKind = "action"
)

// OrderStep is a declared unit of work at a location.
//
// Location names a Location instance (transport and move steps).
// Parameters is required for action steps and optional for transport.
// StartedBy and FinishedBy are nil when absent.
type OrderStep struct {
	Name       string
	Kind       StepKind
	Location   string
	Parameters Object
	StartedBy  Expr
	FinishedBy Expr
	OnDone     string
}

// Statement is a sealed interface over the statements of a task body.
type Statement interface {
	statement()
}

// TransportOrder picks up at one or more steps and delivers at one.
type TransportOrder struct {
	From []string
	To   string
}

// MoveOrder moves the task's entity to a step's location.
type MoveOrder struct {
	Step string
}

// ActionOrder executes an action step with the task's entity.
type ActionOrder struct {
	Step string
}

// TaskCall runs another task to completion before continuing.
type TaskCall struct {
	Task string
}

// HookStatement is an opaque statement handed to a registered hook.
type HookStatement struct {
	Kind    string
	Payload Object
}

func (*TransportOrder) statement() {}
func (*MoveOrder) statement()      {}
func (*ActionOrder) statement()    {}
func (*TaskCall) statement()       {}
func (*HookStatement) statement()  {}

// IsOrder reports whether s is a Transport, Move or Action order.
func IsOrder(s Statement) bool {
	switch s.(type) {
	case *TransportOrder, *MoveOrder, *ActionOrder:
		return true
	}
	return false
}

// Window bounds a point in run-relative time (seconds). Nil bounds are open.
type Window struct {
	Earliest *float64 `json:"earliest,omitempty"`
	Latest   *float64 `json:"latest,omitempty"`
}

// IsZero reports whether both bounds are open.
func (w Window) IsZero() bool { return w.Earliest == nil && w.Latest == nil }

// Constraints restricts when a task's transports may start and finish.
// Expression, when set, is an expr-lang boolean over TransportStart,
// TransportFinished, Duration, Distance and Now.
type Constraints struct {
	TransportStart    Window `json:"transport_start"`
	TransportFinished Window `json:"transport_finished"`
	Expression        string `json:"expression,omitempty"`
}

// Task is a named unit of work made of statements run in order.
type Task struct {
	Name        string
	Statements  []Statement
	StartedBy   Expr
	FinishedBy  Expr
	Constraints *Constraints
}

// DefaultEntry is the entry task name used when a program names none.
const DefaultEntry = "main"

// Program is the resolved program index: every declaration keyed by name.
// It is built once at load time and passed explicitly; nothing in the
// runtime consults global registries.
type Program struct {
	Entry     string
	Structs   map[string]*StructDecl
	Instances map[string]*StructInstance
	Rules     map[string]*Rule
	Steps     map[string]*OrderStep
	Tasks     map[string]*Task

	// InstanceOrder and TaskOrder preserve declaration order for
	// deterministic iteration.
	InstanceOrder []string
	TaskOrder     []string

	// Hash identifies the program source (see ProgramHash).
	Hash string
}

// NewProgram returns an empty program with the built-in structs declared.
func NewProgram() *Program {
	return &Program{
		Entry:     DefaultEntry,
		Structs:   BuiltinStructs(),
		Instances: make(map[string]*StructInstance),
		Rules:     make(map[string]*Rule),
		Steps:     make(map[string]*OrderStep),
		Tasks:     make(map[string]*Task),
	}
}

// AddInstance registers an instance, keeping declaration order.
func (p *Program) AddInstance(si *StructInstance) {
	if _, ok := p.Instances[si.Name]; !ok {
		p.InstanceOrder = append(p.InstanceOrder, si.Name)
	}
	p.Instances[si.Name] = si
}

// AddTask registers a task, keeping declaration order.
func (p *Program) AddTask(t *Task) {
	if _, ok := p.Tasks[t.Name]; !ok {
		p.TaskOrder = append(p.TaskOrder, t.Name)
	}
	p.Tasks[t.Name] = t
}

// EntryTask returns the entry task.
func (p *Program) EntryTask() (*Task, bool) {
	t, ok := p.Tasks[p.Entry]
	return t, ok
}
