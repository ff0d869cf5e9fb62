package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/trove/internal/errors"
)

// StepStore persists memoized workflow step results in sqlite.
type StepStore struct {
	db *sql.DB
}

// NewStepStore creates a StepStore backed by db.
func NewStepStore(db *sql.DB) *StepStore {
	return &StepStore{db: db}
}

// Get returns the stored payload for (runID, step).
func (s *StepStore) Get(ctx context.Context, runID, step string) ([]byte, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM step_results WHERE run_id = ? AND step_name = ?`, runID, step).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewInternal(err)
	}
	return []byte(payload), true, nil
}

// Put stores the payload for (runID, step), replacing any previous value.
func (s *StepStore) Put(ctx context.Context, runID, step string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_results (run_id, step_name, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step_name) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at
	`, runID, step, string(payload), time.Now().Unix())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Delete drops one memoized step of a run.
func (s *StepStore) Delete(ctx context.Context, runID, step string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM step_results WHERE run_id = ? AND step_name = ?`, runID, step); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Steps lists the memoized step names of a run in completion order.
func (s *StepStore) Steps(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_name FROM step_results WHERE run_id = ? ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	steps := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewInternal(err)
		}
		steps = append(steps, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return steps, nil
}
