package governor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernor_AdmissionNeverExceedsCapacity(t *testing.T) {
	g, err := New(map[string]int64{PoolAPI: 3})
	require.NoError(t, err)

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.RunUnder(context.Background(), PoolAPI, func(ctx context.Context) error {
				n := atomic.AddInt64(&current, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
}

func TestGovernor_PoolsAreIndependent(t *testing.T) {
	g, err := New(map[string]int64{PoolAPI: 1, PoolDB: 1})
	require.NoError(t, err)

	release := make(chan struct{})
	go func() {
		_ = g.RunUnder(context.Background(), PoolAPI, func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	// The db pool is not blocked by the saturated api pool.
	done := make(chan struct{})
	go func() {
		_ = g.RunUnder(context.Background(), PoolDB, func(ctx context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("db pool admission blocked by api pool")
	}
	close(release)
}

func TestGovernor_CancelledWhileWaiting(t *testing.T) {
	g, err := New(map[string]int64{PoolAPI: 1})
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	go func() {
		_ = g.RunUnder(context.Background(), PoolAPI, func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := false
	err = g.RunUnder(ctx, PoolAPI, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
}

func TestGovernor_UnknownPool(t *testing.T) {
	g, err := New(map[string]int64{PoolAPI: 1})
	require.NoError(t, err)

	err = g.RunUnder(context.Background(), "bogus", func(ctx context.Context) error { return nil })
	require.Error(t, err)
}

func TestGovernor_InvalidCapacity(t *testing.T) {
	_, err := New(map[string]int64{PoolAPI: 0})
	require.Error(t, err)
}

func TestGovernor_TryRunUnder(t *testing.T) {
	g, err := New(map[string]int64{PoolCPU: 1})
	require.NoError(t, err)

	release := make(chan struct{})
	go func() {
		_ = g.RunUnder(context.Background(), PoolCPU, func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ran, err := g.TryRunUnder(context.Background(), PoolCPU, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, ran)
	close(release)
}
