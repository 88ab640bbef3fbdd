// Package ratelimit tracks the shared request pause imposed by a remote
// service and lets callers wait it out or cut it short.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Gate is the single process-wide record of "send nothing to the remote
// before this instant". Fetch paths call Wait before going out, response
// handling moves the deadline forward with NotePauseUntil, and a manual
// Clear wakes every waiter at once. The zero deadline means requests may
// flow freely.
type Gate struct {
	mu         sync.Mutex
	pauseUntil time.Time
	wake       chan struct{}
	clk        clock.Clock
}

// NewGate constructs an open gate.
func NewGate() *Gate {
	return &Gate{wake: make(chan struct{}), clk: clock.New()}
}

// WithClock replaces the gate's time source. Intended for tests.
func (g *Gate) WithClock(clk clock.Clock) *Gate {
	g.clk = clk
	return g
}

// Wait blocks until the pause deadline has passed, the gate is cleared,
// or ctx ends. It returns nil as soon as requests may flow and ctx.Err()
// when the caller gave up first. A deadline that moves forward while a
// caller sleeps extends that caller's wait accordingly.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.clk.Now()
		if !g.pauseUntil.After(now) {
			g.mu.Unlock()
			return nil
		}
		remaining := g.pauseUntil.Sub(now)
		wake := g.wake
		g.mu.Unlock()

		timer := g.clk.Timer(remaining)
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// NotePauseUntil records a pause deadline reported by the remote. The
// deadline only ever moves forward; an earlier report never shortens an
// already recorded pause.
func (g *Gate) NotePauseUntil(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.After(g.pauseUntil) {
		g.pauseUntil = t
	}
}

// Clear drops the pause deadline and wakes every waiter. Waiters re-check
// the deadline on wake, so a Clear that races a fresh NotePauseUntil puts
// them back to sleep rather than letting them through early.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pauseUntil = time.Time{}
	close(g.wake)
	g.wake = make(chan struct{})
}

// Paused reports whether the deadline is still ahead of now.
func (g *Gate) Paused() bool {
	return g.PauseRemaining() > 0
}

// PausedUntil returns the recorded deadline, zero when none is active.
func (g *Gate) PausedUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.pauseUntil.After(g.clk.Now()) {
		return time.Time{}
	}
	return g.pauseUntil
}

// PauseRemaining returns how long Wait would block right now.
func (g *Gate) PauseRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clk.Now()
	if !g.pauseUntil.After(now) {
		return 0
	}
	return g.pauseUntil.Sub(now)
}

// Describe renders the gate state for display next to a subject, for
// example "remote requests paused until 15:04:05". It returns the empty
// string when requests may flow.
func (g *Gate) Describe() string {
	until := g.PausedUntil()
	if until.IsZero() {
		return ""
	}
	return fmt.Sprintf("remote requests paused until %s", until.Format("15:04:05"))
}
