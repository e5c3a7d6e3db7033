package throttle

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// gate is one bounded-concurrency semaphore with two FIFO waiter tiers.
// golang.org/x/sync/semaphore has no priority lane, so the waiter queue is
// managed directly; the handoff discipline mirrors semaphore.Weighted
// (grant inside release, remove-on-cancel with re-release race handling).
type gate struct {
	mu     sync.Mutex
	limit  int
	active int

	high   *list.List // of chan struct{}
	normal *list.List
}

func newGate(limit int) *gate {
	return &gate{
		limit:  limit,
		high:   list.New(),
		normal: list.New(),
	}
}

func (g *gate) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.active
}

// resize changes the ceiling. Growing wakes queued waiters; shrinking lets
// in-flight operations drain naturally below the new ceiling.
func (g *gate) resize(limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.limit = limit

	// Granting on grow opens fresh slots, so each grant takes one.
	for g.active < g.limit && g.grantLocked() {
		g.active++
	}
}

func (g *gate) acquire(ctx context.Context, prio Priority, timeout time.Duration) error {
	g.mu.Lock()

	if g.active < g.limit {
		g.active++
		g.mu.Unlock()

		return nil
	}

	ready := make(chan struct{})

	queue := g.normal
	if prio == High {
		queue = g.high
	}

	elem := queue.PushBack(ready)
	g.mu.Unlock()

	var timeoutC <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		timeoutC = timer.C
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return g.abandon(queue, elem, ready, ctx.Err())
	case <-timeoutC:
		return g.abandon(queue, elem, ready, ErrThrottleTimeout)
	}
}

// abandon removes a waiter that stopped waiting. If the grant raced the
// cancellation, the slot was already handed to us and must be released so
// it is not leaked.
func (g *gate) abandon(queue *list.List, elem *list.Element, ready chan struct{}, cause error) error {
	g.mu.Lock()

	select {
	case <-ready:
		// Slot granted concurrently with cancellation; give it back.
		g.releaseLocked()
		g.mu.Unlock()
	default:
		queue.Remove(elem)
		g.mu.Unlock()
	}

	return cause
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.releaseLocked()
}

// releaseLocked hands the freed slot straight to the oldest high-priority
// waiter, then the oldest normal waiter; active stays constant on handoff
// so the ceiling can never be exceeded.
func (g *gate) releaseLocked() {
	if g.active <= g.limit && g.grantLocked() {
		return
	}

	g.active--
}

// grantLocked pops one waiter (high tier first) and signals it without
// changing the active count. Reports whether a waiter was granted.
func (g *gate) grantLocked() bool {
	for _, q := range []*list.List{g.high, g.normal} {
		if front := q.Front(); front != nil {
			q.Remove(front)
			close(front.Value.(chan struct{}))

			return true
		}
	}

	return false
}
