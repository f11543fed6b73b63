// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package sync2

import "context"

// Semaphore is a counting semaphore for capping concurrent access to a
// shared resource across the whole process.
type Semaphore struct {
	permits chan struct{}
}

// NewSemaphore creates a semaphore with the given number of permits.
func NewSemaphore(permits int) *Semaphore {
	return &Semaphore{
		permits: make(chan struct{}, permits),
	}
}

// Acquire takes a permit, blocking until one is available or the
// context is canceled.
func (sema *Semaphore) Acquire(ctx context.Context) error {
	select {
	case sema.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit.
func (sema *Semaphore) Release() {
	<-sema.permits
}
