// Package backoff implements the reconnect timer sub-machine: it fires a
// single timeout event after a delay that grows from a minimum toward a
// maximum interval across successive failures, and resets on success.
//
// Trimmed to the command/event shape (Start/Stop, onTimeout/onStopped
// callbacks) the endpoint state machines in pkg/endpoint need, and
// jitter-free by default so the delay sequence is deterministic for tests
// (see DESIGN.md "Open Question decisions").
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Timer is the backoff reconnect timer sub-machine.
//
// A Timer is either idle, or running: Start arms it (not idle), and it
// stays not-idle until the owner calls Stop and the resulting Stopped
// callback has been delivered. Backoff is running iff the owning state
// machine is in WAITING or STOPPING_BACKOFF.
type Timer struct {
	mu sync.Mutex

	min, max   time.Duration
	multiplier float64
	jitter     float64
	rng        *rand.Rand

	current  time.Duration
	attempts int

	idle    bool
	pending *time.Timer

	onTimeout func()
	onStopped func()
}

// Option configures a Timer at construction.
type Option func(*Timer)

// WithMultiplier overrides the default doubling growth factor.
func WithMultiplier(m float64) Option {
	return func(t *Timer) { t.multiplier = m }
}

// WithJitter adds up to the given fraction of random jitter to every
// delay. The endpoint state machines in this module never set this -
// it exists for callers outside pkg/endpoint that want thundering-herd
// protection and don't need a deterministic sequence.
func WithJitter(fraction float64) Option {
	return func(t *Timer) { t.jitter = fraction }
}

// New creates a backoff timer whose delay starts at min and grows toward
// max. If max <= min, the delay is constant at min (RECONNECT_IVL_MAX of
// 0 means equal to RECONNECT_IVL).
func New(min, max time.Duration, opts ...Option) *Timer {
	if max < min {
		max = min
	}
	t := &Timer{
		min:        min,
		max:        max,
		multiplier: 2.0,
		current:    min,
		idle:       true,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnTimeout sets the callback invoked (on its own goroutine) when the
// armed delay elapses. Must be set before the first Start.
func (t *Timer) OnTimeout(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTimeout = fn
}

// OnStopped sets the callback invoked (on its own goroutine) once Stop
// has fully quiesced the timer. Must be set before the first Stop.
func (t *Timer) OnStopped(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStopped = fn
}

// Start arms the timer for one delay. Exactly one Timeout callback follows,
// unless Stop is called first.
func (t *Timer) Start() {
	t.mu.Lock()
	delay := t.nextLocked()
	t.idle = false
	cb := t.onTimeout
	t.pending = time.AfterFunc(delay, func() {
		if cb != nil {
			cb()
		}
	})
	t.mu.Unlock()
}

// Stop cancels any pending delay and asynchronously delivers exactly one
// Stopped callback, the teardown discipline every other sub-machine in
// this module follows.
func (t *Timer) Stop() {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	cb := t.onStopped
	t.mu.Unlock()

	if pending != nil {
		pending.Stop()
	}

	go func() {
		t.mu.Lock()
		t.idle = true
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
	}()
}

// Reset resets the growth sequence back to the minimum interval. Call this
// on every successful transition into ACTIVE.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.min
	t.attempts = 0
}

// IsIdle reports whether the timer has no outstanding Start/Stop in
// flight.
func (t *Timer) IsIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}

// Attempts returns the number of delays issued since the last Reset.
func (t *Timer) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// nextLocked returns the next delay (with jitter, if configured) and
// advances the underlying growth sequence. Caller must hold t.mu.
func (t *Timer) nextLocked() time.Duration {
	base := t.current
	t.attempts++

	next := time.Duration(float64(t.current) * t.multiplier)
	if next > t.max {
		next = t.max
	}
	t.current = next

	if t.jitter <= 0 {
		return base
	}
	return base + time.Duration(float64(base)*t.jitter*t.rng.Float64())
}
