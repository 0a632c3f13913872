// Package gate bounds and spaces out calls to rate-limited music providers.
//
// A Gate admits at most maxConcurrent holders at a time and enforces a minimum
// interval between consecutive admissions. Waiters are admitted in arrival order.
// One Gate is shared by every generation in the process.
package gate

import (
	"context"
	"sync/atomic"
	"time"

	"Versewell/metrics"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxConcurrent = 10
	DefaultStagger       = 3500 * time.Millisecond
)

// Gate is safe for concurrent use.
type Gate struct {
	// turn serializes admission so slot and stagger are granted in arrival order.
	turn     *semaphore.Weighted
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	max      int
	stagger  time.Duration
	inFlight atomic.Int64
}

// New returns a Gate. Non-positive maxConcurrent falls back to the default; a
// negative stagger does too, while zero disables spacing.
func New(maxConcurrent int, stagger time.Duration) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if stagger < 0 {
		stagger = DefaultStagger
	}
	limit := rate.Inf
	if stagger > 0 {
		limit = rate.Every(stagger)
	}
	return &Gate{
		turn:    semaphore.NewWeighted(1),
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		limiter: rate.NewLimiter(limit, 1),
		max:     maxConcurrent,
		stagger: stagger,
	}
}

// Acquire blocks until a slot is free and the stagger interval since the previous
// admission has elapsed. On error no slot is held.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := g.turn.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.turn.Release(1)

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.sem.Release(1)
		return err
	}
	g.inFlight.Add(1)
	metrics.GateInFlight.Inc()
	metrics.ObserveGateWait(time.Since(start))
	return nil
}

// Release frees a slot taken by a successful Acquire.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	metrics.GateInFlight.Dec()
	g.sem.Release(1)
}

// Do runs fn while holding a slot.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

// InFlight reports admitted holders that have not released yet.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

func (g *Gate) MaxConcurrent() int { return g.max }

func (g *Gate) Stagger() time.Duration { return g.stagger }
