// Package clock implements the Clock (C1): simulated time advanced at a
// configurable acceleration factor, with monotonic guarantees and
// deterministic waiter release order. The waiter heap and its
// deadline/insertion-order tie-break are grounded on gomind's
// core/async_task.go task-state model, generalized from "poll an async
// HTTP task until done" to "release a goroutine once simulated time
// reaches its deadline".
package clock

import (
	"container/heap"
	"context"
	"math"
	"sync"
	"time"
)

// SimTime is an instant in simulated time. It carries no relationship to
// wall-clock time except through a Clock's acceleration factor.
type SimTime struct {
	t time.Time
}

// Epoch is the fixed zero instant every Clock starts from, so two runs
// with identical inputs produce identical SimTime values.
var Epoch = SimTime{t: time.Unix(0, 0).UTC()}

// Add returns s advanced by d.
func (s SimTime) Add(d time.Duration) SimTime { return SimTime{t: s.t.Add(d)} }

// Sub returns the simulated duration between s and other.
func (s SimTime) Sub(other SimTime) time.Duration { return s.t.Sub(other.t) }

// Before reports whether s occurs strictly before other.
func (s SimTime) Before(other SimTime) bool { return s.t.Before(other.t) }

// After reports whether s occurs strictly after other.
func (s SimTime) After(other SimTime) bool { return s.t.After(other.t) }

// Equal reports whether s and other are the same instant.
func (s SimTime) Equal(other SimTime) bool { return s.t.Equal(other.t) }

// Time exposes the underlying time.Time, e.g. for JSON marshaling of API
// responses and logging.
func (s SimTime) Time() time.Time { return s.t }

func (s SimTime) String() string { return s.t.Format(time.RFC3339Nano) }

type waiter struct {
	deadline SimTime
	seq      uint64 // insertion order, for deterministic tie-break
	release  chan struct{}
	index    int // heap index, maintained by container/heap
}

type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }
func (h waiterHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *waiterHeap) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}
func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// Clock maintains simulated time. Acceleration factor alpha relates a
// real second to alpha simulated seconds; alpha = math.Inf(1) selects
// as-fast-as-possible mode used by deterministic tests, in which time only
// advances when Advance, AdvanceTo or AdvanceToNextWaiter is called, never
// off a real-time pacing loop.
type Clock struct {
	mu      sync.Mutex
	now     SimTime
	alpha   float64
	waiters waiterHeap
	nextSeq uint64

	pacingCancel context.CancelFunc
	pacingDone   chan struct{}
}

// New creates a Clock starting at Epoch with the given acceleration factor.
func New(alpha float64) *Clock {
	if alpha <= 0 {
		alpha = 144
	}
	c := &Clock{now: Epoch, alpha: alpha}
	heap.Init(&c.waiters)
	return c
}

// Now returns the current simulated instant.
func (c *Clock) Now() SimTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// IsInfinite reports whether this Clock runs in as-fast-as-possible mode.
func (c *Clock) IsInfinite() bool {
	return math.IsInf(c.alpha, 1)
}

// SleepUntil suspends the calling goroutine until simulated time reaches
// deadline, or ctx is cancelled first. It returns ctx.Err() on cancellation,
// nil once the deadline is reached.
func (c *Clock) SleepUntil(ctx context.Context, deadline SimTime) error {
	c.mu.Lock()
	if !c.now.Before(deadline) {
		c.mu.Unlock()
		return nil
	}
	w := &waiter{deadline: deadline, seq: c.nextSeq, release: make(chan struct{})}
	c.nextSeq++
	heap.Push(&c.waiters, w)
	c.mu.Unlock()

	select {
	case <-w.release:
		return nil
	case <-ctx.Done():
		c.removeWaiter(w)
		return ctx.Err()
	}
}

func (c *Clock) removeWaiter(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.index < 0 || w.index >= len(c.waiters) || c.waiters[w.index] != w {
		return
	}
	heap.Remove(&c.waiters, w.index)
}

// Advance moves the cursor forward by delta and releases, in deadline
// order with insertion-order tie-break, every waiter whose deadline has
// now passed. Advance never rewinds the clock even if delta is negative
// or zero relative to pending work; callers should only pass delta >= 0.
func (c *Clock) Advance(delta time.Duration) {
	if delta < 0 {
		delta = 0
	}
	c.mu.Lock()
	c.now = c.now.Add(delta)
	c.releaseDueLocked()
	c.mu.Unlock()
}

// AdvanceTo jumps the cursor directly to t if t is after the current
// instant, releasing any waiters newly due. Used in as-fast-as-possible
// mode to skip idle real time between events.
func (c *Clock) AdvanceTo(t SimTime) {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.releaseDueLocked()
	c.mu.Unlock()
}

// AdvanceToNextWaiter jumps straight to the earliest pending waiter's
// deadline and releases it (and any other waiters due at that instant).
// Reports false if there are no pending waiters.
func (c *Clock) AdvanceToNextWaiter() bool {
	c.mu.Lock()
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		return false
	}
	next := c.waiters[0].deadline
	if next.After(c.now) {
		c.now = next
	}
	c.releaseDueLocked()
	c.mu.Unlock()
	return true
}

func (c *Clock) releaseDueLocked() {
	for len(c.waiters) > 0 && !c.waiters[0].deadline.After(c.now) {
		w := heap.Pop(&c.waiters).(*waiter)
		close(w.release)
	}
}

// PendingWaiters returns the number of goroutines currently blocked in
// SleepUntil, useful for tests asserting drain-on-stop behavior.
func (c *Clock) PendingWaiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// StartPacing launches the real-time pacing loop for a finite alpha: every
// tick real duration, it advances simulated time by tick*alpha. It is a
// no-op when the clock is infinite, since as-fast-as-possible mode is
// driven explicitly instead.
func (c *Clock) StartPacing(ctx context.Context, tick time.Duration) {
	if c.IsInfinite() {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.pacingCancel = cancel
	c.pacingDone = make(chan struct{})
	go func() {
		defer close(c.pacingDone)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Advance(time.Duration(float64(tick) * c.alpha))
			}
		}
	}()
}

// StopPacing halts the real-time pacing loop started by StartPacing and
// waits for it to exit. Safe to call even if pacing was never started.
func (c *Clock) StopPacing() {
	if c.pacingCancel != nil {
		c.pacingCancel()
		<-c.pacingDone
		c.pacingCancel = nil
	}
}
