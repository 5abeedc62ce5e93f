package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/ir"
)

// ErrNotFound is returned when a run or snapshot does not exist.
var ErrNotFound = errors.New("not found")

// Outcome is how one task run finished.
type Outcome struct {
	TaskRun string         `json:"task_run"`
	Task    string         `json:"task"`
	Seq     int64          `json:"seq"`
	Outcome engine.Outcome `json:"outcome"`
	Code    string         `json:"code,omitempty"`
	Cause   string         `json:"cause,omitempty"`
	Message string         `json:"message,omitempty"`
}

// StoredTransition is a Transition with the tick it happened in.
type StoredTransition struct {
	Seq int64 `json:"seq"`
	engine.Transition
}

// StoredUpdate is an Update with the tick it was applied in.
type StoredUpdate struct {
	Seq int64 `json:"seq"`
	engine.Update
}

// GetRun returns the run record for id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, program_hash, entry, engine_version, ir_version
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.ProgramHash, &run.Entry, &run.EngineVersion, &run.IRVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs ordered by id.
//
// Returns an empty slice (not nil) when no runs exist.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program_hash, entry, engine_version, ir_version
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.ProgramHash, &run.Entry, &run.EngineVersion, &run.IRVersion); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ReadDispatches returns every dispatch of a run in the order the engine
// emitted them.
func (s *Store) ReadDispatches(ctx context.Context, runID string) ([]engine.Dispatch, error) {
	return s.readDispatches(ctx, `
		SELECT step_run, task_run, task, order_index, step, kind, state, assignee, location, parameters
		FROM dispatches
		WHERE run_id = ?
		ORDER BY seq ASC, rowid ASC
	`, runID)
}

// ReadDispatchesFor returns the dispatches assigned to one entity.
func (s *Store) ReadDispatchesFor(ctx context.Context, runID, entity string) ([]engine.Dispatch, error) {
	return s.readDispatches(ctx, `
		SELECT step_run, task_run, task, order_index, step, kind, state, assignee, location, parameters
		FROM dispatches
		WHERE run_id = ? AND assignee = ?
		ORDER BY seq ASC, rowid ASC
	`, runID, entity)
}

func (s *Store) readDispatches(ctx context.Context, query string, args ...any) ([]engine.Dispatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	out := []engine.Dispatch{}
	for rows.Next() {
		var (
			d      engine.Dispatch
			kind   string
			state  string
			params string
		)
		if err := rows.Scan(&d.StepRun, &d.TaskRun, &d.Task, &d.Order, &d.Step,
			&kind, &state, &d.Assignee, &d.Location, &params); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		d.Kind = ir.StepKind(kind)
		d.State = engine.StepState(state)
		if d.Parameters, err = unmarshalParameters(params); err != nil {
			return nil, fmt.Errorf("dispatch %s: %w", d.StepRun, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ReadOutcomes returns finished task runs ordered by the tick they
// finished in, then task run id.
func (s *Store) ReadOutcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_run, task, seq, outcome, code, cause, message
		FROM task_outcomes
		WHERE run_id = ?
		ORDER BY seq ASC, task_run COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	out := []Outcome{}
	for rows.Next() {
		var (
			o       Outcome
			outcome string
		)
		if err := rows.Scan(&o.TaskRun, &o.Task, &o.Seq, &outcome, &o.Code, &o.Cause, &o.Message); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Outcome = engine.Outcome(outcome)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ReadTransitions returns every state change of a run in emission order.
func (s *Store) ReadTransitions(ctx context.Context, runID string) ([]StoredTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, entity_id, name, from_state, to_state
		FROM transitions
		WHERE run_id = ?
		ORDER BY seq ASC, idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := []StoredTransition{}
	for rows.Next() {
		var (
			tr   StoredTransition
			kind string
		)
		if err := rows.Scan(&tr.Seq, &kind, &tr.ID, &tr.Name, &tr.From, &tr.To); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.Kind = engine.EntityKind(kind)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ReadUpdates returns every applied write of a run in application order.
func (s *Store) ReadUpdates(ctx context.Context, runID string) ([]StoredUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, instance, field, value, source
		FROM updates
		WHERE run_id = ?
		ORDER BY seq ASC, idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	out := []StoredUpdate{}
	for rows.Next() {
		var (
			u     StoredUpdate
			value string
		)
		if err := rows.Scan(&u.Seq, &u.Instance, &u.Field, &value, &u.Source); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		if u.Value, err = unmarshalValue(value); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the newest snapshot of a run and its hash. The
// stored body is verified against the hash before decoding.
func (s *Store) LatestSnapshot(ctx context.Context, runID string) (*engine.Snapshot, string, error) {
	var (
		hash string
		body string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT hash, body FROM snapshots
		WHERE run_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, runID).Scan(&hash, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("snapshot of run %q: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("latest snapshot: %w", err)
	}
	if got := ir.SnapshotHash([]byte(body)); got != hash {
		return nil, "", fmt.Errorf("snapshot of run %q is corrupt: hash %s, stored %s", runID, got, hash)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, "", fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, hash, nil
}
