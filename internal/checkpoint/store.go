// Package checkpoint persists named progress markers per run, enabling
// safe resumption after interruption.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

// StatusCompleted marks a unit of work (site subtree, pipeline stage) as
// fully processed; on resume the unit is skipped entirely.
const StatusCompleted = "completed"

// Store writes checkpoints through the storage contract with an
// in-process read-through cache. State blobs are opaque JSON owned by
// the component that writes the key.
type Store struct {
	repo   domain.CheckpointRepository
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string][]byte
}

func NewStore(repo domain.CheckpointRepository, logger *slog.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger,
		cache:  make(map[string][]byte),
	}
}

// Save durably persists state under (runID, key), overwriting any prior
// value for that key.
func (s *Store) Save(ctx context.Context, runID, key string, state interface{}) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s/%s: %w", runID, key, err)
	}
	if err := s.repo.Save(ctx, runID, key, blob); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[runID+":"+key] = blob
	s.mu.Unlock()
	return nil
}

// Restore loads the last saved state for (runID, key) into out. It
// returns false when no checkpoint exists. Unreadable stored state is
// treated as absent rather than failing the run; the owning scope is
// then re-discovered from scratch.
func (s *Store) Restore(ctx context.Context, runID, key string, out interface{}) (bool, error) {
	cacheKey := runID + ":" + key

	s.mu.RLock()
	blob, ok := s.cache[cacheKey]
	s.mu.RUnlock()

	if !ok {
		var err error
		blob, err = s.repo.Get(ctx, runID, key)
		if err != nil {
			return false, err
		}
		if blob == nil {
			return false, nil
		}
		s.mu.Lock()
		s.cache[cacheKey] = blob
		s.mu.Unlock()
	}

	if err := json.Unmarshal(blob, out); err != nil {
		s.logger.Warn("corrupt checkpoint state, treating as absent",
			"run_id", runID, "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// IsCompleted reports whether the unit identified by key carries the
// completion marker.
func (s *Store) IsCompleted(ctx context.Context, runID, key string) (bool, error) {
	var status string
	ok, err := s.Restore(ctx, runID, key, &status)
	if err != nil {
		return false, err
	}
	return ok && status == StatusCompleted, nil
}

// MarkCompleted saves the completion marker for key.
func (s *Store) MarkCompleted(ctx context.Context, runID, key string) error {
	return s.Save(ctx, runID, key, StatusCompleted)
}

// Cleanup prunes checkpoints older than the retention window and returns
// the number removed.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	return s.repo.DeleteBefore(ctx, cutoff)
}
