package engine

import (
	"github.com/iml130/mf-plugin/internal/ir"
)

// Dispatch is newly-active work: an order step that entered Active this
// tick together with the entity that must carry it out.
type Dispatch struct {
	StepRun    string      `json:"step_run"`
	TaskRun    string      `json:"task_run"`
	Task       string      `json:"task"`
	Order      int         `json:"order"`
	Step       string      `json:"step"`
	Kind       ir.StepKind `json:"kind"`
	State      StepState   `json:"state"`
	Assignee   string      `json:"assignee"`
	Location   string      `json:"location,omitempty"`
	Parameters ir.Object   `json:"parameters,omitempty"`
}

// EntityKind names what a Transition applies to.
type EntityKind string

const (
	EntityTask  EntityKind = "task"
	EntityOrder EntityKind = "order"
	EntityStep  EntityKind = "step"
)

// Transition records one state change. Outcome is set when a task run
// enters Finished.
type Transition struct {
	Kind    EntityKind `json:"kind"`
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	From    string     `json:"from"`
	To      string     `json:"to"`
	Outcome Outcome    `json:"outcome,omitempty"`
}

// Update records an applied external write.
type Update struct {
	Instance string   `json:"instance"`
	Field    string   `json:"field"`
	Value    ir.Value `json:"value"`
	Source   string   `json:"source"`
}

// TaskFailure reports a task run that finished as failed this tick.
type TaskFailure struct {
	TaskRun string `json:"task_run"`
	Task    string `json:"task"`
	Code    string `json:"code"`
	Cause   string `json:"cause,omitempty"`
	Message string `json:"message"`
}

// TickReport is everything that happened during one tick.
type TickReport struct {
	Seq         int64         `json:"seq"`
	Elapsed     float64       `json:"elapsed"`
	Updates     []Update      `json:"updates,omitempty"`
	Transitions []Transition  `json:"transitions,omitempty"`
	Dispatches  []Dispatch    `json:"dispatches,omitempty"`
	Failures    []TaskFailure `json:"failures,omitempty"`
}

// Empty reports whether nothing happened.
func (r *TickReport) Empty() bool {
	return len(r.Updates) == 0 && len(r.Transitions) == 0 &&
		len(r.Dispatches) == 0 && len(r.Failures) == 0
}
