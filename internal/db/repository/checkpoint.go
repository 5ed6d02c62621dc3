package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// CheckpointRepo implements domain.CheckpointRepository. One row per
// (run, key); Save overwrites any prior state for the key.
type CheckpointRepo struct {
	db *sql.DB
}

func NewCheckpointRepo(db *sql.DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// Save durably persists the state blob for (runID, key).
func (r *CheckpointRepo) Save(ctx context.Context, runID, key string, state []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_checkpoints (run_id, checkpoint_key, state, created_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(run_id, checkpoint_key) DO UPDATE SET
			state = excluded.state,
			created_at = CURRENT_TIMESTAMP`,
		runID, key, string(state))
	if err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", runID, key, err)
	}
	return nil
}

// Get returns the last saved state for (runID, key), or nil when absent.
func (r *CheckpointRepo) Get(ctx context.Context, runID, key string) ([]byte, error) {
	var state string
	err := r.db.QueryRowContext(ctx,
		`SELECT state FROM audit_checkpoints WHERE run_id = ? AND checkpoint_key = ?`,
		runID, key).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s/%s: %w", runID, key, err)
	}
	return []byte(state), nil
}

// DeleteBefore prunes checkpoints created before the cutoff timestamp
// (SQLite datetime string) and returns the number of rows removed.
func (r *CheckpointRepo) DeleteBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_checkpoints WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete checkpoints before %s: %w", cutoff, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
