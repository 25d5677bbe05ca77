package models

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate admits one call at a time to a single-instance backend such as a
// model sharing the GPU. Waiters give up when their context ends.
type Gate struct {
	name    string
	sem     *semaphore.Weighted
	waiting atomic.Int64
}

// NewGate creates a one-slot gate.
func NewGate(name string) *Gate {
	return &Gate{name: name, sem: semaphore.NewWeighted(1)}
}

// Do runs fn once the slot is free.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return fmt.Errorf("wait for %s slot: %w", g.name, err)
	}
	defer g.sem.Release(1)
	return fn(ctx)
}

// Waiting returns the number of callers queued for the slot.
func (g *Gate) Waiting() int64 {
	return g.waiting.Load()
}
