// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package sync2

import (
	"context"
	"time"
)

// Cycle implements a controllable recurring event.
//
// The first invocation happens immediately when Run is called, after
// that the function runs once per interval until the context is
// canceled. TriggerWait forces an extra run in between.
type Cycle struct {
	interval time.Duration

	ticker  *time.Ticker
	control chan cycleTrigger
	quit    chan struct{}
}

type cycleTrigger struct {
	done chan struct{}
}

// NewCycle creates a new cycle with the given interval.
func NewCycle(interval time.Duration) *Cycle {
	cycle := &Cycle{}
	cycle.SetInterval(interval)
	return cycle
}

// SetInterval allows changing the interval before starting.
func (cycle *Cycle) SetInterval(interval time.Duration) {
	cycle.interval = interval
}

func (cycle *Cycle) sendControl(message cycleTrigger) {
	select {
	case cycle.control <- message:
	case <-cycle.quit:
	}
}

// Run runs fn immediately and then once per interval until the context
// is canceled.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	cycle.quit = make(chan struct{})
	defer close(cycle.quit)

	cycle.ticker = time.NewTicker(cycle.interval)
	defer cycle.ticker.Stop()
	cycle.control = make(chan cycleTrigger)

	if err := fn(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-cycle.ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}

		case trigger := <-cycle.control:
			if err := fn(ctx); err != nil {
				return err
			}
			if trigger.done != nil {
				trigger.done <- struct{}{}
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TriggerWait ensures that the loop is done at least once more and
// waits for completion. If fn is currently running it waits for the
// previous invocation to complete and then runs.
func (cycle *Cycle) TriggerWait() {
	done := make(chan struct{})
	cycle.sendControl(cycleTrigger{done})
	select {
	case <-done:
	case <-cycle.quit:
	}
}
