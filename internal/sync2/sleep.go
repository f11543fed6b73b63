// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package sync2

import (
	"context"
	"math/rand"
	"time"
)

// Sleep waits for the duration or until the context is canceled,
// returning false when the context ended the wait early.
func Sleep(ctx context.Context, duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SleepBetween sleeps a uniformly random duration from [low, high].
// Scraping stages use it to avoid a fixed request cadence.
func SleepBetween(ctx context.Context, low, high time.Duration) bool {
	duration := low
	if high > low {
		duration += time.Duration(rand.Int63n(int64(high - low)))
	}
	return Sleep(ctx, duration)
}
