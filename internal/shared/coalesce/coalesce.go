// Package coalesce deduplicates concurrent calls that share a key.
package coalesce

import (
	"context"
	"sync"
)

type call[P any] struct {
	done    chan struct{}
	payload *P
	err     error
}

// Group collapses concurrent Do calls for the same key into a single
// execution. Callers that join an in-flight call receive the identical
// outcome. Every entry lives for exactly one execution: once the outcome
// is delivered the key is free again, so a later call runs afresh.
type Group[P any] struct {
	mu    sync.Mutex
	calls map[string]*call[P]
}

// NewGroup constructs an empty group.
func NewGroup[P any]() *Group[P] {
	return &Group[P]{calls: make(map[string]*call[P])}
}

// Do executes fn, unless a call for key is already in flight, in which
// case it waits for that call and returns its result. The check and the
// insert happen under one lock, so two callers can never both run fn for
// the same key. A caller whose ctx ends while waiting gets ctx.Err();
// the in-flight execution itself is not interrupted.
func (g *Group[P]) Do(ctx context.Context, key string, fn func() (*P, error)) (*P, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	g.mu.Lock()
	if existing, ok := g.calls[key]; ok {
		g.mu.Unlock()
		select {
		case <-existing.done:
			return existing.payload, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry := &call[P]{done: make(chan struct{})}
	g.calls[key] = entry
	g.mu.Unlock()

	entry.payload, entry.err = fn()
	close(entry.done)

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	return entry.payload, entry.err
}

// InFlight reports how many keys currently have an execution pending.
func (g *Group[P]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
