// Package governor bounds concurrency with named admission pools.
package governor

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Well-known pool names.
const (
	PoolAPI = "api"
	PoolDB  = "db"
	PoolCPU = "cpu"
)

// Governor holds independent admission pools, each a weighted semaphore
// with a fixed capacity. Admission to a pool never exceeds its capacity
// regardless of how many logical workers request it.
type Governor struct {
	pools map[string]*semaphore.Weighted
}

// New creates a governor with the given pool capacities. Capacities of
// zero or less are rejected.
func New(capacities map[string]int64) (*Governor, error) {
	pools := make(map[string]*semaphore.Weighted, len(capacities))
	for name, capacity := range capacities {
		if capacity <= 0 {
			return nil, fmt.Errorf("pool %q: capacity must be positive, got %d", name, capacity)
		}
		pools[name] = semaphore.NewWeighted(capacity)
	}
	return &Governor{pools: pools}, nil
}

// RunUnder blocks until a slot is free in the named pool, runs task, and
// releases the slot. Cancellation of ctx while waiting returns the
// context error without running task.
func (g *Governor) RunUnder(ctx context.Context, pool string, task func(context.Context) error) error {
	sem, ok := g.pools[pool]
	if !ok {
		return fmt.Errorf("unknown admission pool %q", pool)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return task(ctx)
}

// TryRunUnder runs task only if a slot is immediately available,
// reporting whether it ran.
func (g *Governor) TryRunUnder(ctx context.Context, pool string, task func(context.Context) error) (bool, error) {
	sem, ok := g.pools[pool]
	if !ok {
		return false, fmt.Errorf("unknown admission pool %q", pool)
	}
	if !sem.TryAcquire(1) {
		return false, nil
	}
	defer sem.Release(1)
	return true, task(ctx)
}
