package engine

import "fmt"

// StepState is the lifecycle state of an order step.
type StepState string

const (
	StepPending     StepState = "Pending"
	StepGatedStart  StepState = "GatedStart"
	StepActive      StepState = "Active"
	StepGatedFinish StepState = "GatedFinish"
	StepDone        StepState = "Done"
	StepCancelled   StepState = "Cancelled"
)

// OrderState is the lifecycle state of an order.
type OrderState string

const (
	OrderPending   OrderState = "Pending"
	OrderAssigning OrderState = "Assigning"
	OrderAssigned  OrderState = "Assigned"
	OrderExecuting OrderState = "Executing"
	OrderCompleted OrderState = "Completed"
	OrderFailed    OrderState = "Failed"
	OrderCancelled OrderState = "Cancelled"
)

// TaskState is the lifecycle state of a task run.
type TaskState string

const (
	TaskWaiting  TaskState = "Waiting"
	TaskEligible TaskState = "Eligible"
	TaskRunning  TaskState = "Running"
	TaskFinished TaskState = "Finished"
)

// Outcome says how a finished task run ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s StepState) Terminal() bool { return s == StepDone || s == StepCancelled }

// Terminal reports whether no further transition is possible.
func (s OrderState) Terminal() bool {
	return s == OrderCompleted || s == OrderFailed || s == OrderCancelled
}

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool { return s == TaskFinished }

var stepTransitions = map[StepState][]StepState{
	StepPending:     {StepGatedStart, StepCancelled},
	StepGatedStart:  {StepActive, StepCancelled},
	StepActive:      {StepGatedFinish, StepCancelled},
	StepGatedFinish: {StepDone, StepCancelled},
}

var orderTransitions = map[OrderState][]OrderState{
	OrderPending:   {OrderAssigning, OrderAssigned, OrderFailed, OrderCancelled},
	OrderAssigning: {OrderAssigned, OrderPending, OrderFailed, OrderCancelled},
	OrderAssigned:  {OrderExecuting, OrderFailed, OrderCancelled},
	OrderExecuting: {OrderCompleted, OrderFailed, OrderCancelled},
}

var taskTransitions = map[TaskState][]TaskState{
	TaskWaiting:  {TaskEligible, TaskFinished},
	TaskEligible: {TaskRunning, TaskFinished},
	TaskRunning:  {TaskFinished},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition validates a transition against its table. A violation is
// an engine bug, not a program error, so callers panic on it.
func checkTransition[S ~string](table map[S][]S, what, id string, from, to S) {
	if !allowed(table, from, to) {
		panic(fmt.Sprintf("engine: disallowed %s transition for %s: %s -> %s", what, id, from, to))
	}
}
