package httpapi

import (
	"context"
	"sync"
	"sync/atomic"
)

// SessionRegistry tracks active relay sessions and supports graceful
// draining. While draining, new sessions are rejected and in-flight ones
// run to completion.
//
// mu makes the draining check and wg.Add in Add atomic, so no session can
// be added after StartDraining returns.
type SessionRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
	total    atomic.Int64
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{}
}

// Add registers a new session. It returns false while draining.
func (sr *SessionRegistry) Add() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.draining {
		return false
	}
	sr.wg.Add(1)
	sr.count.Add(1)
	sr.total.Add(1)
	return true
}

// Done marks a session as finished. Call exactly once per successful Add.
func (sr *SessionRegistry) Done() {
	sr.count.Add(-1)
	sr.wg.Done()
}

// StartDraining makes future Add calls fail.
func (sr *SessionRegistry) StartDraining() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.draining = true
}

// IsDraining reports whether the registry is draining.
func (sr *SessionRegistry) IsDraining() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.draining
}

// ActiveCount returns the number of sessions in flight.
func (sr *SessionRegistry) ActiveCount() int64 {
	return sr.count.Load()
}

// TotalCount returns the number of sessions ever admitted.
func (sr *SessionRegistry) TotalCount() int64 {
	return sr.total.Load()
}

// Drain stops admitting sessions and waits for the active ones, or for ctx.
func (sr *SessionRegistry) Drain(ctx context.Context) error {
	sr.StartDraining()
	done := make(chan struct{})
	go func() {
		sr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
