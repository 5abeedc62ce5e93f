// Package engine executes material-flow programs.
//
// An Engine owns the live struct instances, the fleet and every task run
// of one program. It is driven by Tick: each tick applies the external
// writes queued since the previous tick, then advances every task run
// against that single instance state.
//
// Lifecycles:
//
//	step:  Pending -> GatedStart -> Active -> GatedFinish -> Done
//	order: Pending -> Assigning -> Assigned -> Executing -> Completed
//	task:  Waiting -> Eligible -> Running -> Finished
//
// Orders, steps and tasks may also end Failed or Cancelled. Every state
// change is checked against a transition table and reported in the
// TickReport, together with the steps that became Active (dispatches).
//
// Orders of one task run execute strictly in declaration order. A Move or
// Action order reuses the entity of the most recent Transport order of the
// same run and fails with NoAssignedEntity when there is none.
//
// Errors raised while evaluating gates, assigning transports or running
// hooks finish the owning task run as failed. Sibling runs are unaffected.
//
// Tick sequence numbers come from Clock, never from wall time, so recorded
// reports order deterministically. Wall time only feeds the elapsed
// seconds seen by constraints and the Time struct schedule.
package engine
