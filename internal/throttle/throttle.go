// Package throttle bounds concurrent operations per remote endpoint. Each
// (protocol class, resource key) pair gets an independent gate with a
// concurrency ceiling; high-priority acquisitions jump the queue but never
// exceed the ceiling. State is in-memory only and resets with the process.
package throttle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mkuusisto/unifs/internal/resource"
)

// ErrThrottleTimeout is returned when a slot wait exceeds the configured
// acquire timeout. It is transient: callers may retry.
var ErrThrottleTimeout = errors.New("throttle: timed out waiting for slot")

// Priority orders queued waiters. High-priority waiters are admitted before
// any queued normal-priority waiter, but fairness holds within each tier
// (strict FIFO), so normal traffic is never starved once the high queue
// drains.
type Priority int

const (
	Normal Priority = iota
	High
)

// Throttle owns all gates. Construct one at startup and pass it explicitly
// to the engine and transfer orchestrator; it is not a package global.
type Throttle struct {
	mu        sync.Mutex
	gates     map[resource.Key]*gate
	overrides map[resource.Key]int

	// acquireTimeout bounds the slot wait. Zero means wait until ctx ends.
	acquireTimeout time.Duration

	logger *slog.Logger
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithAcquireTimeout bounds every slot wait; expiry yields ErrThrottleTimeout.
func WithAcquireTimeout(d time.Duration) Option {
	return func(t *Throttle) { t.acquireTimeout = d }
}

func New(logger *slog.Logger, opts ...Option) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}

	t := &Throttle{
		gates:     make(map[resource.Key]*gate),
		overrides: make(map[resource.Key]int),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// SetLimit installs a learned per-endpoint ceiling, overriding the protocol
// default for key only. A ceiling change applies to the next gate creation;
// an existing gate is resized in place.
func (t *Throttle) SetLimit(key resource.Key, limit int) {
	if limit < 1 {
		limit = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.overrides[key] = limit

	if g, ok := t.gates[key]; ok {
		g.resize(limit)
	}

	t.logger.Info("throttle ceiling set",
		slog.String("key", string(key)),
		slog.Int("limit", limit),
	)
}

// Do runs op while holding a slot on the gate for (kind, key). The slot is
// released on every exit path; op's result passes through unchanged. The
// gate itself only fails on cancellation or acquire timeout.
func (t *Throttle) Do(ctx context.Context, kind resource.Kind, key resource.Key, prio Priority, op func(ctx context.Context) error) error {
	g := t.gate(kind, key)

	if err := g.acquire(ctx, prio, t.acquireTimeout); err != nil {
		return err
	}
	defer g.release()

	return op(ctx)
}

// InFlight reports the current slot usage for key, for diagnostics.
func (t *Throttle) InFlight(key resource.Key) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.gates[key]
	if !ok {
		return 0
	}

	return g.inFlight()
}

func (t *Throttle) gate(kind resource.Kind, key resource.Key) *gate {
	t.mu.Lock()
	defer t.mu.Unlock()

	if g, ok := t.gates[key]; ok {
		return g
	}

	limit := kind.DefaultConcurrency()
	if o, ok := t.overrides[key]; ok {
		limit = o
	}

	g := newGate(limit)
	t.gates[key] = g

	t.logger.Debug("gate created",
		slog.String("key", string(key)),
		slog.Int("limit", limit),
	)

	return g
}
