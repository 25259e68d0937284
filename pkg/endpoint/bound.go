package endpoint

import (
	"fmt"
	"net"
	"sync"

	"github.com/conduitmesh/conduit/pkg/addr"
	"github.com/conduitmesh/conduit/pkg/backoff"
	"github.com/conduitmesh/conduit/pkg/discovery"
	"github.com/conduitmesh/conduit/pkg/epbase"
	"github.com/conduitmesh/conduit/pkg/log"
	"github.com/conduitmesh/conduit/pkg/session"
	"github.com/conduitmesh/conduit/pkg/sock"
)

// boundState is the bound endpoint's state field.
type boundState uint8

const (
	boundIdle boundState = iota
	boundActive
	boundWaiting
	boundClosing
	boundStoppingPending
	boundStoppingListener
	boundStoppingChildren
	boundStoppingBackoff
)

func (s boundState) String() string {
	switch s {
	case boundIdle:
		return "IDLE"
	case boundActive:
		return "ACTIVE"
	case boundWaiting:
		return "WAITING"
	case boundClosing:
		return "CLOSING"
	case boundStoppingPending:
		return "STOPPING_PENDING"
	case boundStoppingListener:
		return "STOPPING_LISTENER"
	case boundStoppingChildren:
		return "STOPPING_CHILDREN"
	case boundStoppingBackoff:
		return "STOPPING_BACKOFF"
	default:
		return "UNKNOWN"
	}
}

// Bound is the bound (listening) transport endpoint: it binds a listener,
// accepts inbound connections into a set of established child sessions,
// and retries bind/listen failures with backoff.
type Bound struct {
	base *epbase.Base
	disp *dispatcher

	iface    string
	port     uint16
	ipv4Only bool

	mu          sync.Mutex
	state       boundState
	listener    *sock.Listener
	pending     *session.Session
	children    map[uint64]*session.Session
	nextChildID uint64
	retry       *backoff.Timer
	liveCfg     session.LivenessConfig
	listening   bool

	advertiseInstance string
	advertiser        *discovery.Advertiser

	// shutdownRequested latches an FSM_STOP observed while recovering
	// from a listener failure (WAITING/STOPPING_BACKOFF/CLOSING), so the
	// recovery cycle's own terminal event routes into beginShutdown
	// instead of resuming the accept loop.
	shutdownRequested bool
}

// BoundOption configures optional behavior on a Bound endpoint at
// construction time.
type BoundOption func(*Bound)

// WithAdvertise registers instance as an mDNS service record (via
// pkg/discovery) for as long as the endpoint is ACTIVE, withdrawing it the
// moment the listener leaves ACTIVE (CLOSING on error, or STOPPING_LISTENER
// on graceful shutdown). Construction-time configuration only: it never
// appears as a sub-machine the state machine has to sequence.
func WithAdvertise(instance string) BoundOption {
	return func(b *Bound) {
		b.advertiseInstance = instance
	}
}

// NewBound parses addr ("IFACE:PORT") and options, returning a Bound
// endpoint in state IDLE, or ErrInvalid/ErrNoDevice. The endpoint does
// nothing until Start is called.
func NewBound(address string, opts epbase.Options, logger log.Logger, boundOpts ...BoundOption) (*Bound, error) {
	iface, port, err := addr.SplitPort(address)
	if err != nil {
		return nil, addr.ErrInvalid
	}
	if _, err := addr.ResolveIface(iface, opts.IPv4Only); err != nil {
		return nil, err
	}

	b := &Bound{
		base:     epbase.New(address, log.KindBound, opts, logger),
		iface:    iface,
		port:     port,
		ipv4Only: opts.IPv4Only,
		children: make(map[uint64]*session.Session),
		state:    boundIdle,
		liveCfg:  session.DefaultLivenessConfig(),
	}
	for _, opt := range boundOpts {
		opt(b)
	}
	b.listener = sock.New()
	b.retry = backoff.New(opts.ReconnectIvl, opts.EffectiveMaxInterval())
	b.retry.OnTimeout(func() { b.disp.post(event{src: srcBackoff, kind: evTimeout}) })
	b.retry.OnStopped(func() { b.disp.post(event{src: srcBackoff, kind: evStopped}) })
	b.listener.OnAccept(func(conn net.Conn) { b.disp.post(event{src: srcSocket, kind: evAccepted, payload: conn}) })
	b.listener.OnError(func(err error) { b.disp.post(event{src: srcSocket, kind: evError, err: err}) })
	b.listener.OnClosed(func() { b.disp.post(event{src: srcSocket, kind: evStopped}) })
	if b.advertiseInstance != "" {
		b.advertiser = discovery.New()
	}

	b.disp = newDispatcher(b.handle)
	return b, nil
}

// Base exposes the endpoint base for statistics/option inspection.
func (b *Bound) Base() *epbase.Base { return b.base }

// State returns the current state, for tests and status reporting.
func (b *Bound) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// ChildCount reports the number of established child sessions.
func (b *Bound) ChildCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.children)
}

// Start begins binding and accepting. Equivalent to FSM_START in IDLE.
func (b *Bound) Start() {
	b.disp.post(event{src: srcFSM, kind: evStart})
}

// Stop initiates asynchronous shutdown. Equivalent to FSM_STOP.
func (b *Bound) Stop() {
	b.disp.post(event{src: srcFSM, kind: evStop})
}

// Destroy releases the dispatcher goroutine. Must only be called after
// the stopped hook (epbase.Base.SetStoppedHook) has fired.
func (b *Bound) Destroy() {
	close(b.disp.ch)
}

// handle is the single exhaustive (state, source, kind) switch driving
// the bound endpoint: a tagged variant matched exhaustively. It runs
// exclusively on the dispatcher goroutine.
func (b *Bound) handle(ev event) {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()

	switch state {
	case boundIdle:
		b.handleIdle(ev)
	case boundActive:
		b.handleActive(ev)
	case boundWaiting:
		b.handleWaiting(ev)
	case boundClosing:
		b.handleClosing(ev)
	case boundStoppingPending:
		b.handleStoppingPending(ev)
	case boundStoppingListener:
		b.handleStoppingListener(ev)
	case boundStoppingChildren:
		b.handleStoppingChildren(ev)
	case boundStoppingBackoff:
		b.handleStoppingBackoff(ev)
	default:
		protocolViolation(state, ev)
	}
}

func (b *Bound) setState(next boundState) {
	b.mu.Lock()
	old := b.state
	b.state = next
	b.mu.Unlock()
	b.base.LogState(log.StateEntityEndpoint, old.String(), next.String(), "")
}

func (b *Bound) handleIdle(ev event) {
	switch {
	case ev.src == srcFSM && ev.kind == evStart:
		b.startListening()
	case ev.src == srcFSM && ev.kind == evStop:
		// Never started: nothing to tear down. Create/stop/destroy with
		// no sub-machine activity must still complete cleanly.
		b.base.Stopped()
	default:
		protocolViolation(boundIdle, ev)
	}
}

// startListening resolves the bind address and attempts to listen.
// Distinguishes the two failure paths: an interface that no longer
// resolves never reached socket creation, so
// it goes straight to WAITING; a Listen() failure (bind/listen conflict)
// goes through CLOSING first.
func (b *Bound) startListening() {
	ip, err := addr.ResolveIface(b.iface, b.ipv4Only)
	if err != nil {
		b.base.SetError(err)
		b.retry.Start()
		b.setState(boundWaiting)
		return
	}

	bindAddr := net.JoinHostPort(ip.String(), fmt.Sprintf("%d", b.port))
	if err := b.listener.Listen(bindAddr); err != nil {
		b.base.SetError(err)
		b.setState(boundClosing)
		// The listener never started its accept loop, so no async
		// STOPPED will arrive from it; fold the same transition through
		// the event queue anyway so CLOSING's handler is the single
		// place that decides what comes next (design note: reentrant
		// emission folded through the dispatcher, not handled inline).
		b.disp.post(event{src: srcSocket, kind: evStopped})
		return
	}

	b.base.ClearError()
	b.listening = true
	b.beginAccepting()
	b.retry.Reset()
	b.setState(boundActive)
	b.advertise()
}

// advertise registers the configured mDNS instance name, if WithAdvertise
// was used. Failures are recorded but never stop the listener; advertising
// is a convenience, not a condition of being bound.
func (b *Bound) advertise() {
	if b.advertiser == nil {
		return
	}
	if err := b.advertiser.Advertise(b.advertiseInstance, int(b.port)); err != nil {
		b.base.LogTransportError("", err)
	}
}

// withdraw removes any active mDNS advertisement. Safe to call even when
// WithAdvertise was never used.
func (b *Bound) withdraw() {
	if b.advertiser == nil {
		return
	}
	b.advertiser.Withdraw()
}

// beginAccepting allocates the pending slot for the next inbound
// connection. The listener's own accept loop runs continuously in the
// background; pending is the session that will receive whichever
// connection it hands back next -- an adaptation of an explicit
// "command pending to begin accepting" step into this module's
// always-accepting sock.Listener (see DESIGN.md).
func (b *Bound) beginAccepting() {
	b.mu.Lock()
	b.pending = session.New(b.base, b.liveCfg)
	b.mu.Unlock()
}

func (b *Bound) handleActive(ev event) {
	switch {
	case ev.src == srcSocket && ev.kind == evAccepted:
		b.acceptChild(ev.payload.(net.Conn))
	case ev.src == srcSession:
		b.handleChildEvent(ev)
	case ev.src == srcSocket && ev.kind == evError:
		b.base.SetError(ev.err)
		b.mu.Lock()
		b.pending = nil // invariant 1: pending only exists in ACTIVE
		b.mu.Unlock()
		b.setState(boundClosing)
		b.withdraw()
		b.listening = false
		b.listener.Close()
	case ev.src == srcFSM && ev.kind == evStop:
		b.beginShutdown()
	default:
		protocolViolation(boundActive, ev)
	}
}

// acceptChild moves the pending slot into children once it has a live
// connection, then immediately arms a new pending slot: move pending into
// children, clear pending, and immediately begin another accept.
func (b *Bound) acceptChild(conn net.Conn) {
	b.mu.Lock()
	child := b.pending
	id := b.nextChildID
	b.nextChildID++
	b.children[id] = child
	b.pending = nil
	b.mu.Unlock()

	child.OnError(func(err error) { b.disp.post(event{src: srcSession, kind: evError, childID: id, err: err}) })
	child.OnStopped(func() { b.disp.post(event{src: srcSession, kind: evStopped, childID: id}) })
	child.Start(conn)
	b.base.Stats().Increment(epbase.StatEstablishedConnections, 1)

	b.beginAccepting()
}

// handleChildEvent dispatches an event from one established child,
// identified by childID, regardless of the current endpoint state --
// every non-IDLE state routes child ERROR/STOPPED events here.
func (b *Bound) handleChildEvent(ev event) {
	b.mu.Lock()
	child, ok := b.children[ev.childID]
	b.mu.Unlock()
	if !ok {
		protocolViolation(b.currentState(), ev)
	}

	switch ev.kind {
	case evError:
		b.base.Stats().Increment(epbase.StatBrokenConnections, 1)
		b.base.LogTransportError("", ev.err)
		child.Stop()
	case evStopped:
		b.mu.Lock()
		delete(b.children, ev.childID)
		remaining := len(b.children)
		b.mu.Unlock()
		b.maybeFinishStoppingChildren(remaining)
	default:
		protocolViolation(b.currentState(), ev)
	}
}

// currentState reads the state field under the endpoint's mutex, for use
// from contexts that might run concurrently with State().
func (b *Bound) currentState() boundState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bound) maybeFinishStoppingChildren(remaining int) {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state != boundStoppingChildren || remaining != 0 {
		return
	}
	b.setState(boundIdle)
	b.base.Stopped()
}

// handleWaiting is entered after a listener failure; established
// children are untouched throughout.
func (b *Bound) handleWaiting(ev event) {
	switch {
	case ev.src == srcSession:
		b.handleChildEvent(ev)
	case ev.src == srcBackoff && ev.kind == evTimeout:
		b.retry.Stop()
		b.setState(boundStoppingBackoff)
	case ev.src == srcFSM && ev.kind == evStop:
		b.shutdownRequested = true
		b.retry.Stop()
		b.setState(boundStoppingBackoff)
	default:
		protocolViolation(boundWaiting, ev)
	}
}

func (b *Bound) handleStoppingBackoff(ev event) {
	switch {
	case ev.src == srcSession:
		b.handleChildEvent(ev)
	case ev.src == srcBackoff && ev.kind == evStopped:
		if b.shutdownRequested {
			b.shutdownRequested = false
			b.beginShutdown()
			return
		}
		b.startListening()
	case ev.src == srcFSM && ev.kind == evStop:
		b.shutdownRequested = true
	default:
		protocolViolation(boundStoppingBackoff, ev)
	}
}

func (b *Bound) handleClosing(ev event) {
	switch {
	case ev.src == srcSession:
		b.handleChildEvent(ev)
	case ev.src == srcSocket && ev.kind == evShutdown:
		// advisory, no state change.
	case ev.src == srcFSM && ev.kind == evStop:
		b.shutdownRequested = true
	case ev.src == srcSocket && ev.kind == evStopped:
		if b.shutdownRequested {
			b.shutdownRequested = false
			b.beginShutdown()
			return
		}
		b.retry.Start()
		b.setState(boundWaiting)
	default:
		protocolViolation(boundClosing, ev)
	}
}

// beginShutdown stops the backoff; if pending exists, stop it first;
// else go straight to the listener.
func (b *Bound) beginShutdown() {
	if !b.retry.IsIdle() {
		b.retry.Stop()
	}

	b.mu.Lock()
	pending := b.pending
	b.mu.Unlock()

	if pending != nil {
		b.setState(boundStoppingPending)
		pending.OnStopped(func() { b.disp.post(event{src: srcSession, kind: evStopped, childID: pendingChildID}) })
		pending.Stop()
		return
	}
	b.closeListener()
}

// closeListener transitions to STOPPING_LISTENER and either closes the
// real listener (awaiting its async STOPPED) or, if it was never running
// (shutdown arrived while recovering from a prior failure), synthesizes
// the STOPPED event immediately so the handler still runs through the
// single STOPPING_LISTENER codepath.
func (b *Bound) closeListener() {
	b.setState(boundStoppingListener)
	b.withdraw()
	if b.listening {
		b.listening = false
		b.listener.Close()
		return
	}
	b.disp.post(event{src: srcSocket, kind: evStopped})
}

// pendingChildID is a sentinel childID used only for the pending slot's
// own STOPPED delivery, distinct from every real child id (which start
// counting from 0). STOPPING_PENDING matches this id first and routes
// every other srcSession event to handleChildEvent.
const pendingChildID = ^uint64(0)

func (b *Bound) handleStoppingPending(ev event) {
	switch {
	case ev.src == srcSession && ev.kind == evStopped && ev.childID == pendingChildID:
		b.mu.Lock()
		b.pending = nil
		b.mu.Unlock()
		b.closeListener()
	case ev.src == srcSession:
		b.handleChildEvent(ev)
	case ev.src == srcFSM && ev.kind == evStop:
		// Already tearing down; a second Stop is a no-op.
	default:
		protocolViolation(boundStoppingPending, ev)
	}
}

func (b *Bound) handleStoppingListener(ev event) {
	switch {
	case ev.src == srcSocket && ev.kind == evStopped:
		b.mu.Lock()
		children := make([]*session.Session, 0, len(b.children))
		for _, c := range b.children {
			children = append(children, c)
		}
		remaining := len(children)
		b.mu.Unlock()

		if remaining == 0 {
			b.setState(boundIdle)
			b.base.Stopped()
			return
		}

		b.setState(boundStoppingChildren)
		for _, c := range children {
			c.Stop()
		}
	case ev.src == srcSession:
		b.handleChildEvent(ev)
	case ev.src == srcFSM && ev.kind == evStop:
		// Already tearing down; a second Stop is a no-op.
	default:
		protocolViolation(boundStoppingListener, ev)
	}
}

func (b *Bound) handleStoppingChildren(ev event) {
	switch {
	case ev.src == srcSession:
		b.handleChildEvent(ev)
	case ev.src == srcFSM && ev.kind == evStop:
		// Already tearing down; a second Stop is a no-op.
	default:
		protocolViolation(boundStoppingChildren, ev)
	}
}
