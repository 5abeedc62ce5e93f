package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines an engine scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the path of the CUE program document. Relative paths are
	// resolved against the scenario file's directory.
	Program string `yaml:"program"`

	// AllowInvalid runs programs that fail static validation, for
	// scenarios exercising runtime errors the validator also reports.
	AllowInvalid bool `yaml:"allow_invalid,omitempty"`

	// Config is engine, fleet and topology configuration in the format of
	// package config. Empty means defaults.
	Config yaml.Node `yaml:"config,omitempty"`

	// Hooks maps hook statement kinds to a behaviour: "succeed" or "fail".
	Hooks map[string]string `yaml:"hooks,omitempty"`

	// Ticks drive the engine in order.
	Ticks []TickStep `yaml:"ticks"`

	// Assertions validate the recorded run after the last tick.
	Assertions []Assertion `yaml:"assertions"`
}

// TickStep queues signals, then ticks the engine at At seconds.
type TickStep struct {
	At      float64     `yaml:"at"`
	Signals []Signal    `yaml:"signals,omitempty"`
	Expect  *TickExpect `yaml:"expect,omitempty"`
}

// Signal is one external input. Exactly one of Set, Done, Cancel and Stop
// must be given.
type Signal struct {
	// Set names the struct instance to write (program name or id).
	Set string `yaml:"set,omitempty"`
	// Field defaults to "value".
	Field string `yaml:"field,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Done acknowledges a step run.
	Done string `yaml:"done,omitempty"`

	// Cancel retracts a task run.
	Cancel string `yaml:"cancel,omitempty"`

	// Stop cancels every task run.
	Stop bool `yaml:"stop,omitempty"`
}

// TickExpect checks one tick's report. Lists are compared exactly; a nil
// list is not checked, an empty list expects nothing.
type TickExpect struct {
	// Dispatches are the step names dispatched this tick, in order.
	Dispatches []string `yaml:"dispatches,omitempty"`
	// Failures are the error codes of task runs that failed this tick.
	Failures []string `yaml:"failures,omitempty"`
}

// Assertion validates the run after all ticks.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Steps is the expected relative dispatch order (dispatch_order).
	// Other dispatches may appear in between.
	Steps []string `yaml:"steps,omitempty"`

	// Task restricts the assertion to runs of one task.
	Task string `yaml:"task,omitempty"`

	// Outcome is the expected outcome (task_outcome).
	Outcome string `yaml:"outcome,omitempty"`

	// Code and Cause are the expected error codes (error_code). An empty
	// Cause is not checked.
	Code  string `yaml:"code,omitempty"`
	Cause string `yaml:"cause,omitempty"`

	// Step and State are checked by step_state; Step and Entity by
	// assignee.
	Step   string `yaml:"step,omitempty"`
	State  string `yaml:"state,omitempty"`
	Entity string `yaml:"entity,omitempty"`
}

// Assertion type constants.
const (
	AssertDispatchOrder = "dispatch_order"
	AssertTaskOutcome   = "task_outcome"
	AssertErrorCode     = "error_code"
	AssertStepState     = "step_state"
	AssertAssignee      = "assignee"
	AssertAllFinished   = "all_finished"
)

// Hook behaviours.
const (
	HookSucceed = "succeed"
	HookFail    = "fail"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// (typos) are rejected and the program path is resolved relative to the
// file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Program != "" && !filepath.IsAbs(scenario.Program) {
		scenario.Program = filepath.Join(filepath.Dir(path), scenario.Program)
	}
	if _, err := os.Stat(scenario.Program); err != nil {
		return nil, fmt.Errorf("invalid scenario: program file not found: %s", scenario.Program)
	}
	return scenario, nil
}

// ParseScenario decodes and validates a scenario. The program path is
// used as given.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Program == "" {
		return fmt.Errorf("program is required")
	}
	if len(s.Ticks) == 0 {
		return fmt.Errorf("ticks list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for kind, behaviour := range s.Hooks {
		if behaviour != HookSucceed && behaviour != HookFail {
			return fmt.Errorf("hooks.%s: unknown behaviour %q", kind, behaviour)
		}
	}

	last := 0.0
	for i, tick := range s.Ticks {
		if tick.At < last {
			return fmt.Errorf("ticks[%d]: at %v is before the previous tick", i, tick.At)
		}
		last = tick.At
		for j, sig := range tick.Signals {
			if err := validateSignal(sig); err != nil {
				return fmt.Errorf("ticks[%d].signals[%d]: %w", i, j, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateSignal(sig Signal) error {
	n := 0
	if sig.Set != "" {
		n++
		if sig.Value == nil {
			return fmt.Errorf("set requires a value")
		}
	}
	if sig.Done != "" {
		n++
	}
	if sig.Cancel != "" {
		n++
	}
	if sig.Stop {
		n++
	}
	if n != 1 {
		return fmt.Errorf("exactly one of set, done, cancel or stop is required")
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertDispatchOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for dispatch_order", index)
		}
	case AssertTaskOutcome:
		if a.Task == "" || a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: task and outcome are required for task_outcome", index)
		}
	case AssertErrorCode:
		if a.Task == "" || a.Code == "" {
			return fmt.Errorf("assertions[%d]: task and code are required for error_code", index)
		}
	case AssertStepState:
		if a.Step == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: step and state are required for step_state", index)
		}
	case AssertAssignee:
		if a.Step == "" || a.Entity == "" {
			return fmt.Errorf("assertions[%d]: step and entity are required for assignee", index)
		}
	case AssertAllFinished:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
