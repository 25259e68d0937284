// Package epbase implements the endpoint base contract every bound or
// connected endpoint exposes: address, options, per-kind statistics,
// last-error tracking, and the stopped lifecycle hook the dispatcher
// in pkg/endpoint drives its sub-machines through. The address/option/
// callback state sits behind a mutex-guarded struct with functional
// callback setters.
package epbase

import (
	"sync"

	"github.com/conduitmesh/conduit/pkg/log"
)

// Base holds the state and collaborators every endpoint (bound or
// connected) needs regardless of which state machine drives it.
type Base struct {
	mu sync.Mutex

	address string
	kind    log.EndpointKind
	options Options
	logger  log.Logger
	stats   Stats

	lastErr error

	onStopped func()
	stopped   bool
}

// New creates a Base for the given address and endpoint kind. If logger
// is nil, logging calls are silently discarded via log.NoopLogger.
func New(address string, kind log.EndpointKind, options Options, logger log.Logger) *Base {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Base{
		address: address,
		kind:    kind,
		options: options,
		logger:  logger,
	}
}

// Address returns the address string this endpoint was created with.
func (b *Base) Address() string {
	return b.address
}

// Kind reports whether this is a bound or connected endpoint.
func (b *Base) Kind() log.EndpointKind {
	return b.kind
}

// Options returns the option set this endpoint was created with.
func (b *Base) Options() Options {
	return b.options
}

// Stats returns the statistics counters for this endpoint.
func (b *Base) Stats() *Stats {
	return &b.stats
}

// SetError records err as the most recent error observed by this endpoint.
// A nil err is a no-op; use ClearError instead.
func (b *Base) SetError(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()

	b.logger.Log(log.Event{
		ConnectionID: b.address,
		Layer:        log.LayerEndpoint,
		Category:     log.CategoryError,
		Kind:         b.kind,
		Error: &log.ErrorEventData{
			Layer:   log.LayerEndpoint,
			Message: err.Error(),
		},
	})
}

// ClearError drops any previously recorded error.
func (b *Base) ClearError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = nil
}

// LastError returns the most recently recorded error, or nil.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// SetStoppedHook registers the function invoked exactly once when Stopped
// is called. Endpoint FSMs use this to signal their owner (e.g. the caller
// blocked on Listen/Dial) that the endpoint has fully quiesced.
func (b *Base) SetStoppedHook(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStopped = fn
}

// Stopped marks the endpoint as fully quiesced and invokes the stopped hook.
// Call this only after every sub-machine has reported its own STOPPED event.
func (b *Base) Stopped() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	hook := b.onStopped
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// IsStopped reports whether Stopped has already been called.
func (b *Base) IsStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// LogState records a state-machine transition.
func (b *Base) LogState(entity log.StateEntity, oldState, newState, reason string) {
	b.logger.Log(log.Event{
		ConnectionID: b.address,
		Layer:        log.LayerEndpoint,
		Category:     log.CategoryState,
		Kind:         b.kind,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// LogControl records a session-level control message (ping/pong/close).
func (b *Base) LogControl(direction log.Direction, remoteAddr string, msgType log.ControlMsgType) {
	b.logger.Log(log.Event{
		ConnectionID: b.address,
		Direction:    direction,
		Layer:        log.LayerSession,
		Category:     log.CategoryControl,
		Kind:         b.kind,
		RemoteAddr:   remoteAddr,
		ControlMsg:   &log.ControlMsgEvent{Type: msgType},
	})
}

// LogTransportError records an error observed at the socket/framing layer
// without mutating LastError (used for per-connection errors on a bound
// endpoint that doesn't tear down the whole listener).
func (b *Base) LogTransportError(remoteAddr string, err error) {
	if err == nil {
		return
	}
	b.logger.Log(log.Event{
		ConnectionID: b.address,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		Kind:         b.kind,
		RemoteAddr:   remoteAddr,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
		},
	})
}

// Logger exposes the underlying event logger for collaborators (pkg/sock,
// pkg/session) that need to emit their own transport/session events.
func (b *Base) Logger() log.Logger {
	return b.logger
}
