package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

// RunRepo implements domain.RunRepository.
type RunRepo struct {
	db *sql.DB
}

func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// CreateRun records the start of an audit execution.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.RunMetadata) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_runs (run_id, status, start_time, created_by)
		VALUES (?, ?, ?, ?)`,
		run.RunID, run.Status, run.StartTime, run.CreatedBy)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.RunID, err)
	}
	return nil
}

// FinishRun finalizes a run's status, error count, and summary.
func (r *RunRepo) FinishRun(ctx context.Context, runID, status string, errorCount int64, errorSummary string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE audit_runs
		SET status = ?, end_time = CURRENT_TIMESTAMP, error_count = ?, error_summary = ?
		WHERE run_id = ?`,
		status, errorCount, nullStr(errorSummary), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("run %s not found", runID)
	}
	return nil
}

// UpdateRunCounts refreshes the per-kind discovery counters for a run.
func (r *RunRepo) UpdateRunCounts(ctx context.Context, run *domain.RunMetadata) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE audit_runs
		SET total_sites = ?, total_libraries = ?, total_folders = ?,
			total_files = ?, total_permissions = ?
		WHERE run_id = ?`,
		run.TotalSites, run.TotalLibraries, run.TotalFolders,
		run.TotalFiles, run.TotalPermissions, run.RunID)
	if err != nil {
		return fmt.Errorf("update counts for run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun returns a single run by id.
func (r *RunRepo) GetRun(ctx context.Context, runID string) (*domain.RunMetadata, error) {
	row := r.db.QueryRowContext(ctx, selectRun+` WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]domain.RunMetadata, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, selectRun+` ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunMetadata
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// LatestResumableRun returns the newest failed or partial run, or a
// NotFoundError when there is nothing to resume.
func (r *RunRepo) LatestResumableRun(ctx context.Context) (*domain.RunMetadata, error) {
	row := r.db.QueryRowContext(ctx,
		selectRun+` WHERE status IN (?, ?) ORDER BY start_time DESC LIMIT 1`,
		domain.RunStatusFailed, domain.RunStatusPartial)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("no failed or partial run to resume")
	}
	if err != nil {
		return nil, fmt.Errorf("latest resumable run: %w", err)
	}
	return run, nil
}

const selectRun = `
	SELECT run_id, status, start_time, end_time, total_sites, total_libraries,
		total_folders, total_files, total_permissions, error_count,
		error_summary, created_by
	FROM audit_runs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.RunMetadata, error) {
	var run domain.RunMetadata
	var endTime sql.NullTime
	var summary, createdBy sql.NullString
	err := row.Scan(&run.RunID, &run.Status, &run.StartTime, &endTime,
		&run.TotalSites, &run.TotalLibraries, &run.TotalFolders, &run.TotalFiles,
		&run.TotalPermissions, &run.ErrorCount, &summary, &createdBy)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		run.EndTime = &endTime.Time
	}
	run.ErrorSummary = summary.String
	run.CreatedBy = createdBy.String
	return &run, nil
}
