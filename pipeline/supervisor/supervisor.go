// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package supervisor keeps the pipeline stages running inside their
// time windows. A one-minute tick launches stages whose window opened,
// cancels stages whose window closed and restarts stages that crashed.
// The console starts and stops stages manually through the same
// registry; the next tick re-applies the window rules.
package supervisor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/cercinaai/Xtracto-io/internal/sync2"
)

var (
	// Error is the default error class for the supervisor package.
	Error = errs.Class("supervisor")
	mon   = monkit.Package()
)

// Stage is a unit of supervised work. Run must return promptly once
// its context is canceled; cancellation lands between records, never
// inside one.
type Stage struct {
	Name   string
	Window Window

	// Manual stages are never auto-launched by the tick; they only
	// run when started through the console.
	Manual bool

	// OneShot stages do a bounded amount of work and return; each run
	// additionally lives under a watchdog timeout.
	OneShot bool

	// StartDelay postpones the launch until the window has been open
	// for this long.
	StartDelay time.Duration

	// ReEnterLow and ReEnterHigh space out the runs of a stage whose
	// Run returns on its own: the next launch waits a random duration
	// from [ReEnterLow, ReEnterHigh] after the previous one finished.
	ReEnterLow  time.Duration
	ReEnterHigh time.Duration

	Run func(ctx context.Context) error
}

// State is a point-in-time snapshot of one stage.
type State struct {
	Name      string    `json:"name"`
	Window    string    `json:"window"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	LastErr   string    `json:"lastError,omitempty"`
}

// Config contains configurable values for the supervisor.
type Config struct {
	TickInterval   time.Duration `help:"how often window rules are re-applied" default:"1m"`
	RestartBackoff time.Duration `help:"wait before restarting a crashed stage" default:"30s"`
	OneShotTimeout time.Duration `help:"watchdog timeout for one-shot stages" default:"1h"`
}

type stageState struct {
	stage Stage

	running   bool
	startedAt time.Time
	lastErr   error
	crashedAt time.Time

	// windowSince is when the tick first saw the window open;
	// completed and nextRunAt gate the relaunch of stages whose Run
	// returned on its own.
	windowSince time.Time
	completed   bool
	nextRunAt   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the stage registry and the tick loop.
//
// architecture: Chore
type Supervisor struct {
	log    *zap.Logger
	config Config

	Loop *sync2.Cycle

	mu      sync.Mutex
	order   []string
	stages  map[string]*stageState
	baseCtx context.Context

	nowFn func() time.Time
}

// New creates a supervisor with no stages registered.
func New(log *zap.Logger, config Config) *Supervisor {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Minute
	}
	if config.RestartBackoff <= 0 {
		config.RestartBackoff = 30 * time.Second
	}
	if config.OneShotTimeout <= 0 {
		config.OneShotTimeout = time.Hour
	}
	return &Supervisor{
		log:    log,
		config: config,
		Loop:   sync2.NewCycle(config.TickInterval),
		stages: make(map[string]*stageState),
		nowFn:  time.Now,
	}
}

// Register adds a stage. Must be called before Run.
func (super *Supervisor) Register(stage Stage) {
	super.mu.Lock()
	defer super.mu.Unlock()
	super.order = append(super.order, stage.Name)
	super.stages[stage.Name] = &stageState{stage: stage}
}

// Run ticks until canceled, then stops every running stage.
func (super *Supervisor) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	super.mu.Lock()
	super.baseCtx = ctx
	super.mu.Unlock()

	err = super.Loop.Run(ctx, super.tick)
	super.stopAll()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (super *Supervisor) tick(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	now := super.nowFn()

	super.mu.Lock()
	defer super.mu.Unlock()

	for _, name := range super.order {
		st := super.stages[name]
		inWindow := st.stage.Window.Contains(now)

		if inWindow {
			if st.windowSince.IsZero() {
				st.windowSince = now
			}
		} else {
			st.windowSince = time.Time{}
			st.completed = false
		}

		switch {
		case st.running && !inWindow:
			super.log.Info("window closed, stopping stage", zap.String("stage", name))
			super.stopLocked(st)

		case !st.running && inWindow && !st.stage.Manual:
			if !st.crashedAt.IsZero() && now.Sub(st.crashedAt) < super.config.RestartBackoff {
				continue
			}
			if st.stage.StartDelay > 0 && now.Sub(st.windowSince) < st.stage.StartDelay {
				continue
			}
			if st.completed && (st.stage.ReEnterLow <= 0 || now.Before(st.nextRunAt)) {
				continue
			}
			super.launchLocked(st)
		}
	}
	return nil
}

// Start launches a stage by name, regardless of its window; the next
// tick re-applies the window rules. Starting a running stage is a
// no-op.
func (super *Supervisor) Start(name string) (already bool, err error) {
	super.mu.Lock()
	defer super.mu.Unlock()

	st, ok := super.stages[name]
	if !ok {
		return false, Error.New("unknown stage %q", name)
	}
	if super.baseCtx == nil {
		return false, Error.New("supervisor is not running")
	}
	if st.running {
		return true, nil
	}
	super.launchLocked(st)
	return false, nil
}

// Stop cancels a stage by name and waits for it to wind down. Stopping
// a stopped stage is a no-op.
func (super *Supervisor) Stop(name string) (wasRunning bool, err error) {
	super.mu.Lock()
	st, ok := super.stages[name]
	if !ok {
		super.mu.Unlock()
		return false, Error.New("unknown stage %q", name)
	}
	if !st.running {
		super.mu.Unlock()
		return false, nil
	}
	cancel, done := st.cancel, st.done
	super.mu.Unlock()

	cancel()
	<-done
	return true, nil
}

// Status returns a snapshot of every stage in registration order.
func (super *Supervisor) Status() []State {
	super.mu.Lock()
	defer super.mu.Unlock()

	out := make([]State, 0, len(super.order))
	for _, name := range super.order {
		st := super.stages[name]
		state := State{
			Name:    name,
			Window:  st.stage.Window.String(),
			Running: st.running,
		}
		if st.running {
			state.StartedAt = st.startedAt
		}
		if st.lastErr != nil {
			state.LastErr = st.lastErr.Error()
		}
		out = append(out, state)
	}
	return out
}

// Running reports whether the named stage is currently running.
func (super *Supervisor) Running(name string) (bool, error) {
	super.mu.Lock()
	defer super.mu.Unlock()

	st, ok := super.stages[name]
	if !ok {
		return false, Error.New("unknown stage %q", name)
	}
	return st.running, nil
}

// launchLocked starts the stage goroutine. Callers hold the mutex.
func (super *Supervisor) launchLocked(st *stageState) {
	var ctx context.Context
	var cancel context.CancelFunc
	if st.stage.OneShot {
		ctx, cancel = context.WithTimeout(super.baseCtx, super.config.OneShotTimeout)
	} else {
		ctx, cancel = context.WithCancel(super.baseCtx)
	}

	st.running = true
	st.startedAt = super.nowFn()
	st.lastErr = nil
	st.completed = false
	st.cancel = cancel
	st.done = make(chan struct{})

	super.log.Info("starting stage",
		zap.String("stage", st.stage.Name),
		zap.Stringer("window", st.stage.Window))

	done := st.done
	go func() {
		defer cancel()
		err := st.stage.Run(ctx)

		super.mu.Lock()
		st.running = false
		st.lastErr = err
		now := super.nowFn()
		switch {
		case err != nil && ctx.Err() == nil:
			st.crashedAt = now
			mon.Counter("supervisor_stage_crashes").Inc(1)
			super.log.Error("stage crashed",
				zap.String("stage", st.stage.Name), zap.Error(err))

		case !errors.Is(ctx.Err(), context.Canceled):
			// ran to the end, or the watchdog reaped it; a cancel
			// (window close, stop, shutdown) leaves the stage eligible
			// for an immediate relaunch instead
			st.completed = true
			if st.stage.ReEnterLow > 0 {
				st.nextRunAt = now.Add(reEnterWait(st.stage.ReEnterLow, st.stage.ReEnterHigh))
			}
		}
		super.mu.Unlock()
		close(done)
	}()
}

// stopLocked cancels a stage without waiting; callers hold the mutex.
func (super *Supervisor) stopLocked(st *stageState) {
	if st.cancel != nil {
		st.cancel()
	}
}

func (super *Supervisor) stopAll() {
	super.mu.Lock()
	var waits []chan struct{}
	for _, name := range super.order {
		st := super.stages[name]
		if st.running {
			st.cancel()
			waits = append(waits, st.done)
		}
	}
	super.mu.Unlock()

	for _, done := range waits {
		<-done
	}
}

// reEnterWait picks a uniformly random wait from [low, high].
func reEnterWait(low, high time.Duration) time.Duration {
	wait := low
	if high > low {
		wait += time.Duration(rand.Int63n(int64(high - low)))
	}
	return wait
}
