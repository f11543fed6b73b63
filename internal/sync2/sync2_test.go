// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package sync2_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cercinaai/Xtracto-io/internal/sync2"
)

func TestLimiter_CapsConcurrency(t *testing.T) {
	t.Parallel()

	const limit = 3
	limiter := sync2.NewLimiter(limit)

	var concurrent, peak int64
	for i := 0; i < 20; i++ {
		ok := limiter.Go(context.Background(), func() {
			now := atomic.AddInt64(&concurrent, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if now <= old || atomic.CompareAndSwapInt64(&peak, old, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&concurrent, -1)
		})
		require.True(t, ok)
	}
	limiter.Wait()

	require.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit))
}

func TestLimiter_CanceledContext(t *testing.T) {
	t.Parallel()

	limiter := sync2.NewLimiter(1)

	release := make(chan struct{})
	ok := limiter.Go(context.Background(), func() { <-release })
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, limiter.Go(ctx, func() {}))

	close(release)
	limiter.Wait()
}

func TestSleep_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, sync2.Sleep(ctx, time.Hour))
	require.True(t, sync2.Sleep(context.Background(), time.Millisecond))
}

func TestSleepBetween_Bounds(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.True(t, sync2.SleepBetween(context.Background(), time.Millisecond, 5*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), time.Millisecond)
}

func TestSemaphore(t *testing.T) {
	t.Parallel()

	sema := sync2.NewSemaphore(2)
	require.NoError(t, sema.Acquire(context.Background()))
	require.NoError(t, sema.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, sema.Acquire(ctx))

	sema.Release()
	require.NoError(t, sema.Acquire(context.Background()))
}

func TestCycle_RunsAndStops(t *testing.T) {
	t.Parallel()

	cycle := sync2.NewCycle(10 * time.Millisecond)

	var runs int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- cycle.Run(ctx, func(ctx context.Context) error {
			if atomic.AddInt64(&runs, 1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, atomic.LoadInt64(&runs), int64(3))
}

func TestCycle_TriggerWait(t *testing.T) {
	t.Parallel()

	cycle := sync2.NewCycle(time.Hour)

	var runs int64
	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- cycle.Run(ctx, func(ctx context.Context) error {
			if atomic.AddInt64(&runs, 1) == 1 {
				close(started)
			}
			return nil
		})
	}()

	<-started
	cycle.TriggerWait()
	require.EqualValues(t, 2, atomic.LoadInt64(&runs))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
