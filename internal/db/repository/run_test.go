package repository

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "github.com/bcdannyboy/SharepointAudit/internal/db"
	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

func setupRunRepo(t *testing.T) *RunRepo {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	return NewRunRepo(writeDB)
}

func TestRunRepo_Lifecycle(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	run := &domain.RunMetadata{
		RunID:     "run-1",
		Status:    domain.RunStatusRunning,
		StartTime: time.Now(),
		CreatedBy: "cli",
	}
	require.NoError(t, repo.CreateRun(ctx, run))

	run.TotalSites = 3
	run.TotalFiles = 120
	require.NoError(t, repo.UpdateRunCounts(ctx, run))

	require.NoError(t, repo.FinishRun(ctx, "run-1", domain.RunStatusPartial, 2, "2 sites failed"))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPartial, got.Status)
	assert.Equal(t, int64(2), got.ErrorCount)
	assert.Equal(t, int64(120), got.TotalFiles)
	assert.NotNil(t, got.EndTime)
}

func TestRunRepo_LatestResumableRun(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	_, err := repo.LatestResumableRun(ctx)
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)

	for i, status := range []string{domain.RunStatusCompleted, domain.RunStatusFailed, domain.RunStatusPartial} {
		run := &domain.RunMetadata{
			RunID:     []string{"run-a", "run-b", "run-c"}[i],
			Status:    domain.RunStatusRunning,
			StartTime: time.Now().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.CreateRun(ctx, run))
		require.NoError(t, repo.FinishRun(ctx, run.RunID, status, 0, ""))
	}

	got, err := repo.LatestResumableRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-c", got.RunID)

	runs, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
