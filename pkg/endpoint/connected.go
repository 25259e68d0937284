package endpoint

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/conduitmesh/conduit/pkg/addr"
	"github.com/conduitmesh/conduit/pkg/backoff"
	"github.com/conduitmesh/conduit/pkg/epbase"
	"github.com/conduitmesh/conduit/pkg/log"
	"github.com/conduitmesh/conduit/pkg/resolve"
	"github.com/conduitmesh/conduit/pkg/session"
	"github.com/conduitmesh/conduit/pkg/sock"
)

// connState is the connected endpoint's state field.
type connState uint8

const (
	connIdle connState = iota
	connResolving
	connStoppingDNS
	connConnecting
	connActive
	connStoppingSession
	connStoppingSocket
	connWaiting
	connStoppingBackoff
	connStoppingSessionFinal
	connStopping
)

func (s connState) String() string {
	switch s {
	case connIdle:
		return "IDLE"
	case connResolving:
		return "RESOLVING"
	case connStoppingDNS:
		return "STOPPING_DNS"
	case connConnecting:
		return "CONNECTING"
	case connActive:
		return "ACTIVE"
	case connStoppingSession:
		return "STOPPING_SESSION"
	case connStoppingSocket:
		return "STOPPING_SOCKET"
	case connWaiting:
		return "WAITING"
	case connStoppingBackoff:
		return "STOPPING_BACKOFF"
	case connStoppingSessionFinal:
		return "STOPPING_SESSION_FINAL"
	case connStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Connected is the connected (dialing) transport endpoint: it resolves a
// hostname, connects, and on any failure after CONNECTED retries with
// exponential backoff.
//
// Every field below the mutex is touched only from within handle, which
// runs exclusively on the dispatcher goroutine -- the same single-writer
// discipline dispatch.go documents for state itself -- so none of them
// need their own synchronization. state is additionally guarded because
// State() reads it from arbitrary caller goroutines.
type Connected struct {
	base *epbase.Base
	disp *dispatcher

	localIface string
	host       string
	port       uint16
	ipv4Only   bool

	mu    sync.Mutex
	state connState

	dnsResult resolve.Result

	dialer *sock.Dialer
	dns    *resolve.Resolver
	sess   *session.Session
	retry  *backoff.Timer

	liveCfg session.LivenessConfig

	// dialPending is true from the moment startConnecting issues a Dial
	// until the matching CONNECTED/ERROR event has been handled -- the
	// only sub-machine state finalizeShutdown cannot read via an IsIdle
	// method, since pkg/sock.Dialer exposes none.
	dialPending bool

	// shutdownRequested latches an FSM_STOP observed while a "mid-cycle"
	// sub-machine stop is already outstanding (STOPPING_DNS,
	// STOPPING_BACKOFF, STOPPING_SOCKET after a connect error) -- the
	// normal completion handler routes into finalizeShutdown instead of
	// resuming the connect cycle.
	shutdownRequested bool

	// pending* track which sub-machines finalizeShutdown is still
	// waiting to observe as idle, while in STOPPING.
	pendingDNS     bool
	pendingSocket  bool
	pendingBackoff bool
}

// NewConnected parses addr ("[LOCAL_IFACE;]HOST:PORT") and options,
// returning a Connected endpoint in state IDLE, or ErrInvalid/ErrNoDevice.
// The endpoint does nothing until Start is called.
func NewConnected(address string, opts epbase.Options, logger log.Logger) (*Connected, error) {
	iface, rest := addr.SplitIface(address)
	host, port, err := addr.SplitPort(rest)
	if err != nil {
		return nil, addr.ErrInvalid
	}
	if iface != "" {
		if _, err := addr.ResolveIface(iface, opts.IPv4Only); err != nil {
			return nil, err
		}
	}

	c := &Connected{
		base:       epbase.New(address, log.KindConnected, opts, logger),
		localIface: iface,
		host:       host,
		port:       port,
		ipv4Only:   opts.IPv4Only,
		state:      connIdle,
		liveCfg:    session.DefaultLivenessConfig(),
	}

	c.dialer = &sock.Dialer{}
	c.dns = resolve.New()
	c.sess = session.New(c.base, c.liveCfg)
	c.retry = backoff.New(opts.ReconnectIvl, opts.EffectiveMaxInterval())

	c.dns.OnDone(func(r resolve.Result) { c.disp.post(event{src: srcDNS, kind: evDone, payload: r}) })
	c.dns.OnStopped(func() { c.disp.post(event{src: srcDNS, kind: evStopped}) })
	c.retry.OnTimeout(func() { c.disp.post(event{src: srcBackoff, kind: evTimeout}) })
	c.retry.OnStopped(func() { c.disp.post(event{src: srcBackoff, kind: evStopped}) })
	c.sess.OnError(func(err error) { c.disp.post(event{src: srcSession, kind: evError, err: err}) })
	c.sess.OnStopped(func() { c.disp.post(event{src: srcSession, kind: evStopped}) })

	c.disp = newDispatcher(c.handle)
	return c, nil
}

// Base exposes the endpoint base for statistics/option inspection.
func (c *Connected) Base() *epbase.Base { return c.base }

// State returns the current state, for tests and status reporting.
func (c *Connected) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

// Start begins resolving and connecting. Equivalent to FSM_START in IDLE.
func (c *Connected) Start() {
	c.disp.post(event{src: srcFSM, kind: evStart})
}

// Stop initiates asynchronous shutdown. Equivalent to FSM_STOP.
func (c *Connected) Stop() {
	c.disp.post(event{src: srcFSM, kind: evStop})
}

// Destroy releases the dispatcher goroutine. Must only be called after
// the stopped hook (epbase.Base.SetStoppedHook) has fired.
func (c *Connected) Destroy() {
	close(c.disp.ch)
}

func (c *Connected) currentState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connected) setState(next connState) {
	c.mu.Lock()
	old := c.state
	c.state = next
	c.mu.Unlock()
	c.base.LogState(log.StateEntityEndpoint, old.String(), next.String(), "")
}

// handle is the single exhaustive (state, source, kind) switch driving the
// connected endpoint: a tagged variant matched exhaustively. It runs
// exclusively on the dispatcher goroutine.
func (c *Connected) handle(ev event) {
	switch c.currentState() {
	case connIdle:
		c.handleIdle(ev)
	case connResolving:
		c.handleResolving(ev)
	case connStoppingDNS:
		c.handleStoppingDNS(ev)
	case connConnecting:
		c.handleConnecting(ev)
	case connActive:
		c.handleActive(ev)
	case connStoppingSession:
		c.handleStoppingSession(ev)
	case connStoppingSocket:
		c.handleStoppingSocket(ev)
	case connWaiting:
		c.handleWaiting(ev)
	case connStoppingBackoff:
		c.handleStoppingBackoff(ev)
	case connStoppingSessionFinal:
		c.handleStoppingSessionFinal(ev)
	case connStopping:
		c.handleStopping(ev)
	default:
		protocolViolation(c.currentState(), ev)
	}
}

func (c *Connected) handleIdle(ev event) {
	switch {
	case ev.src == srcFSM && ev.kind == evStart:
		c.beginResolving()
	case ev.src == srcFSM && ev.kind == evStop:
		// Never started: nothing to tear down.
		c.base.Stopped()
	default:
		protocolViolation(connIdle, ev)
	}
}

// beginResolving starts the DNS sub-machine. A literal address still goes
// through this path -- resolve.Resolver answers it immediately -- so
// RESOLVING is always observed uniformly regardless of whether host is a
// hostname, an mDNS name, or a literal IP.
func (c *Connected) beginResolving() {
	c.setState(connResolving)
	c.dns.Start(c.host, c.ipv4Only)
}

func (c *Connected) handleResolving(ev event) {
	switch {
	case ev.src == srcDNS && ev.kind == evDone:
		c.dnsResult = ev.payload.(resolve.Result)
		c.setState(connStoppingDNS)
		c.dns.Stop()
	case ev.src == srcFSM && ev.kind == evStop:
		c.finalizeShutdown()
	default:
		protocolViolation(connResolving, ev)
	}
}

func (c *Connected) handleStoppingDNS(ev event) {
	switch {
	case ev.src == srcDNS && ev.kind == evStopped:
		if c.shutdownRequested {
			c.shutdownRequested = false
			c.finalizeShutdown()
			return
		}
		if c.dnsResult.Err != nil {
			c.base.SetError(c.dnsResult.Err)
			c.retry.Start()
			c.setState(connWaiting)
			return
		}
		c.startConnecting(c.dnsResult.IP)
	case ev.src == srcFSM && ev.kind == evStop:
		c.shutdownRequested = true
	default:
		protocolViolation(connStoppingDNS, ev)
	}
}

// startConnecting resolves the local bind interface and issues the dial.
// A local interface that no longer resolves never reaches socket creation,
// so it goes straight to WAITING like the bound endpoint's equivalent
// failure.
func (c *Connected) startConnecting(remote net.IP) {
	localIP, err := addr.ResolveIface(c.localIface, c.ipv4Only)
	if err != nil {
		c.base.SetError(err)
		c.retry.Start()
		c.setState(connWaiting)
		return
	}

	remoteAddr := net.JoinHostPort(remote.String(), strconv.Itoa(int(c.port)))

	c.dialPending = true
	c.base.Stats().Increment(epbase.StatInprogressConnections, 1)
	c.setState(connConnecting)

	c.dialer.DialFrom(context.Background(), localIP.String(), remoteAddr, func(conn net.Conn, err error) {
		if err != nil {
			c.disp.post(event{src: srcSocket, kind: evError, err: err})
			return
		}
		c.disp.post(event{src: srcSocket, kind: evConnected, payload: conn})
	})
}

func (c *Connected) handleConnecting(ev event) {
	switch {
	case ev.src == srcSocket && ev.kind == evConnected:
		c.dialPending = false
		conn := ev.payload.(net.Conn)
		sock.ApplyBuffers(conn, c.base.Options().SndBuf, c.base.Options().RcvBuf)
		c.base.Stats().Increment(epbase.StatInprogressConnections, -1)
		c.base.Stats().Increment(epbase.StatEstablishedConnections, 1)
		c.base.ClearError()
		c.retry.Reset()
		c.sess.Start(conn)
		c.setState(connActive)
	case ev.src == srcSocket && ev.kind == evError:
		c.dialPending = false
		c.base.SetError(ev.err)
		c.base.Stats().Increment(epbase.StatInprogressConnections, -1)
		c.base.Stats().Increment(epbase.StatConnectErrors, 1)
		c.setState(connStoppingSocket)
		// The dial already finished (with an error); there is no live
		// socket left to close, so fold the same transition through the
		// dispatcher the way the bound endpoint folds a synthetic
		// listener-stop, rather than special-casing STOPPING_SOCKET's
		// entry vs. its completion.
		c.disp.post(event{src: srcSocket, kind: evStopped})
	case ev.src == srcFSM && ev.kind == evStop:
		c.base.Stats().Increment(epbase.StatInprogressConnections, -1)
		c.base.Stats().Increment(epbase.StatDroppedConnections, 1)
		c.finalizeShutdown()
	default:
		protocolViolation(connConnecting, ev)
	}
}

func (c *Connected) handleStoppingSocket(ev event) {
	switch {
	case ev.src == srcSocket && ev.kind == evStopped:
		if c.shutdownRequested {
			c.shutdownRequested = false
			c.finalizeShutdown()
			return
		}
		c.retry.Start()
		c.setState(connWaiting)
	case ev.src == srcFSM && ev.kind == evStop:
		c.shutdownRequested = true
	default:
		protocolViolation(connStoppingSocket, ev)
	}
}

func (c *Connected) handleActive(ev event) {
	switch {
	case ev.src == srcSession && ev.kind == evError:
		c.base.SetError(ev.err)
		c.base.Stats().Increment(epbase.StatBrokenConnections, 1)
		c.setState(connStoppingSession)
		c.sess.Stop()
	case ev.src == srcFSM && ev.kind == evStop:
		c.base.Stats().Increment(epbase.StatDroppedConnections, 1)
		c.setState(connStoppingSessionFinal)
		c.sess.Stop()
	default:
		protocolViolation(connActive, ev)
	}
}

func (c *Connected) handleStoppingSession(ev event) {
	switch {
	case ev.src == srcSession && ev.kind == evStopped:
		if c.shutdownRequested {
			c.shutdownRequested = false
			c.finalizeShutdown()
			return
		}
		c.setState(connStoppingSocket)
		// The session already closed the underlying conn on Stop; there
		// is no separately owned socket left to close, so fold the
		// transition through the dispatcher the same way.
		c.disp.post(event{src: srcSocket, kind: evStopped})
	case ev.src == srcFSM && ev.kind == evStop:
		c.shutdownRequested = true
	default:
		protocolViolation(connStoppingSession, ev)
	}
}

func (c *Connected) handleStoppingSessionFinal(ev event) {
	switch {
	case ev.src == srcSession && ev.kind == evStopped:
		c.finalizeShutdown()
	case ev.src == srcFSM && ev.kind == evStop:
		// Already tearing down for shutdown; a second Stop is a no-op.
	default:
		protocolViolation(connStoppingSessionFinal, ev)
	}
}

func (c *Connected) handleWaiting(ev event) {
	switch {
	case ev.src == srcBackoff && ev.kind == evTimeout:
		c.retry.Stop()
		c.setState(connStoppingBackoff)
	case ev.src == srcFSM && ev.kind == evStop:
		c.finalizeShutdown()
	default:
		protocolViolation(connWaiting, ev)
	}
}

func (c *Connected) handleStoppingBackoff(ev event) {
	switch {
	case ev.src == srcBackoff && ev.kind == evStopped:
		if c.shutdownRequested {
			c.shutdownRequested = false
			c.finalizeShutdown()
			return
		}
		c.beginResolving()
	case ev.src == srcFSM && ev.kind == evStop:
		c.shutdownRequested = true
	default:
		protocolViolation(connStoppingBackoff, ev)
	}
}

// finalizeShutdown is the unified shutdown tail: by the time any call
// site reaches here the session is already idle (ACTIVE
// always routes through STOPPING_SESSION_FINAL first). Stop whichever of
// backoff, the in-flight dial, and DNS are still outstanding, concurrently,
// and wait for all of them to settle before emitting stopped.
func (c *Connected) finalizeShutdown() {
	c.setState(connStopping)

	c.pendingBackoff = !c.retry.IsIdle()
	if c.pendingBackoff {
		c.retry.Stop()
	}

	c.pendingDNS = !c.dns.IsIdle()
	if c.pendingDNS {
		c.dns.Stop()
	}

	c.pendingSocket = c.dialPending
	if c.pendingSocket {
		c.dialer.Cancel()
	}

	c.maybeFinishStopping()
}

func (c *Connected) handleStopping(ev event) {
	switch {
	case ev.src == srcBackoff && ev.kind == evStopped:
		c.pendingBackoff = false
	case ev.src == srcDNS && ev.kind == evDone:
		// A resolution that completed just before Stop cancelled it;
		// its eventual STOPPED still arrives and is what we wait on.
	case ev.src == srcDNS && ev.kind == evStopped:
		c.pendingDNS = false
	case ev.src == srcSocket && (ev.kind == evError || ev.kind == evConnected):
		if ev.kind == evConnected {
			if conn, ok := ev.payload.(net.Conn); ok {
				conn.Close()
			}
		}
		c.dialPending = false
		c.pendingSocket = false
	case ev.src == srcFSM && ev.kind == evStop:
		// Already tearing down; a second Stop is a no-op.
	default:
		protocolViolation(connStopping, ev)
	}
	c.maybeFinishStopping()
}

func (c *Connected) maybeFinishStopping() {
	if c.currentState() != connStopping {
		return
	}
	if c.pendingBackoff || c.pendingDNS || c.pendingSocket {
		return
	}
	c.setState(connIdle)
	c.base.Stopped()
}
