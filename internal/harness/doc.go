// Package harness runs YAML scenarios against the engine.
//
// A scenario names a program, configures the fleet and engine, then drives
// the engine tick by tick with external signals. Every tick is recorded to
// an in-memory run store; assertions read the store and the final task run
// records. The resulting trace (dispatches, updates, failures, finished
// task runs) is deterministic and can be compared against golden files.
//
// # Scenario Format
//
//	name: nearest_neighbour
//	description: "Pickups are visited nearest first"
//	program: programs/nearest.cue
//	config:
//	  fleet:
//	    - {id: agv1, location: origin}
//	hooks:
//	  notify: succeed
//	ticks:
//	  - at: 0
//	    expect:
//	      dispatches: [pick_p2, pick_p1, deliver]
//	  - at: 5
//	    signals:
//	      - {set: event1, field: value, value: true}
//	      - {done: "task-1/0/deliver"}
//	      - {cancel: "task-2"}
//	      - {stop: true}
//	assertions:
//	  - {type: dispatch_order, steps: [pick_p2, pick_p1]}
//	  - {type: task_outcome, task: main, outcome: succeeded}
//	  - {type: error_code, task: main, code: GateEvaluationError, cause: TypeMismatch}
//	  - {type: step_state, task: main, step: deliver, state: Done}
//	  - {type: assignee, step: deliver, entity: agv1}
//	  - {type: all_finished}
//
// The program path is relative to the scenario file. Config uses the
// format of package config. Task runs are numbered task-1, task-2, ... in
// creation order, and step runs are "<task run>/<order>/<step>".
//
// Hooks map hook statement kinds to "succeed" or "fail".
//
// # Determinism
//
//   - Wall time comes from a testutil.ManualClock set from each tick's at
//   - Task run ids come from a testutil.Sequence
//   - The run id is testutil.RunID(scenario name)
//   - Programs fail to load if static validation reports errors, unless
//     allow_invalid is set
//
// # Golden Files
//
// RunWithGolden stores traces in testdata/golden/<name>.golden as
// canonical JSON. Regenerate with:
//
//	go test ./internal/harness -update
package harness
