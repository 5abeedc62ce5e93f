package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/ir"
)

// Run identifies one engine run and the program it executes.
type Run struct {
	ID            string `json:"id"`
	ProgramHash   string `json:"program_hash"`
	Entry         string `json:"entry"`
	EngineVersion string `json:"engine_version"`
	IRVersion     string `json:"ir_version"`
}

// NewRun describes a run of program p under id.
func NewRun(id string, p *ir.Program) Run {
	return Run{
		ID:            id,
		ProgramHash:   p.Hash,
		Entry:         p.Entry,
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
}

// CreateRun inserts a run record. Creating the same id twice is a no-op.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, program_hash, entry, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.ProgramHash, run.Entry, run.EngineVersion, run.IRVersion)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// RecordTick writes everything in rep in one transaction. The run must
// exist. Recording the same tick twice is a no-op.
func (s *Store) RecordTick(ctx context.Context, runID string, rep *engine.TickReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record tick: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ticks (run_id, seq, elapsed) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, rep.Seq, rep.Elapsed); err != nil {
		return fmt.Errorf("record tick %d: %w", rep.Seq, err)
	}

	for i, u := range rep.Updates {
		value, err := marshalValue(u.Value)
		if err != nil {
			return fmt.Errorf("record tick %d: %w", rep.Seq, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO updates (run_id, seq, idx, instance, field, value, source)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, runID, rep.Seq, i, u.Instance, u.Field, value, u.Source); err != nil {
			return fmt.Errorf("record update: %w", err)
		}
	}

	for i, tr := range rep.Transitions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transitions (run_id, seq, idx, kind, entity_id, name, from_state, to_state)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, runID, rep.Seq, i, string(tr.Kind), tr.ID, tr.Name, tr.From, tr.To); err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
		if tr.Kind == engine.EntityTask && tr.Outcome != engine.OutcomeNone {
			if err := writeOutcome(ctx, tx, runID, rep, tr); err != nil {
				return err
			}
		}
	}

	for _, d := range rep.Dispatches {
		if err := writeDispatch(ctx, tx, runID, rep.Seq, d); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record tick %d: commit: %w", rep.Seq, err)
	}
	return nil
}

func writeOutcome(ctx context.Context, tx *sql.Tx, runID string, rep *engine.TickReport, tr engine.Transition) error {
	var code, cause, message string
	for _, f := range rep.Failures {
		if f.TaskRun == tr.ID {
			code, cause, message = f.Code, f.Cause, f.Message
			break
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_outcomes (run_id, task_run, task, seq, outcome, code, cause, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, tr.ID, tr.Name, rep.Seq, string(tr.Outcome), code, cause, message)
	if err != nil {
		return fmt.Errorf("record outcome of %s: %w", tr.ID, err)
	}
	return nil
}

func writeDispatch(ctx context.Context, tx *sql.Tx, runID string, seq int64, d engine.Dispatch) error {
	params, err := marshalParameters(d.Parameters)
	if err != nil {
		return fmt.Errorf("record dispatch %s: %w", d.StepRun, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO dispatches
		(run_id, seq, step_run, task_run, task, order_index, step, kind, state, assignee, location, parameters)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		runID,
		seq,
		d.StepRun,
		d.TaskRun,
		d.Task,
		d.Order,
		d.Step,
		string(d.Kind),
		string(d.State),
		d.Assignee,
		d.Location,
		params,
	)
	if err != nil {
		return fmt.Errorf("record dispatch %s: %w", d.StepRun, err)
	}
	return nil
}

// SaveSnapshot stores snap as canonical JSON and returns its content hash.
// Saving the same seq twice keeps the first body.
func (s *Store) SaveSnapshot(ctx context.Context, runID string, snap *engine.Snapshot) (string, error) {
	body, hash, err := CanonicalSnapshot(snap)
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, seq, hash, body) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, snap.Seq, hash, string(body))
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return hash, nil
}
