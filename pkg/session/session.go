// Package session implements the per-connection session sub-machine: once
// a socket is connected (inbound or outbound), a Session drives
// reads/writes on it and emits at most one Error per Start and exactly one
// Stopped per Stop to its owner -- the bound or connected endpoint FSM in
// pkg/endpoint.
//
// Composed behind the command/event contract (Start/Stop, OnError/
// OnStopped) every other sub-machine in this module follows.
package session

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/conduitmesh/conduit/pkg/epbase"
	"github.com/conduitmesh/conduit/pkg/log"
	"github.com/conduitmesh/conduit/pkg/sock"
	"github.com/conduitmesh/conduit/pkg/wire"
	"github.com/google/uuid"
)

var (
	errPeerClosed      = errors.New("session: peer sent close")
	errSessionIdle     = errors.New("session: not started")
	errLivenessTimeout = errors.New("session: liveness timeout, peer unresponsive")
)

// Session owns one established net.Conn and drives its control-message
// traffic (ping/pong liveness). It is idle until Start is called, and
// again idle -- ready for reuse by a new connection -- once Stopped fires:
// elsewhere the session is either idle or being stopped, never both.
type Session struct {
	base   *epbase.Base
	config LivenessConfig

	mu      sync.Mutex
	conn    net.Conn
	id      string
	idle    bool
	liveOn  bool
	stopped bool

	cancel context.CancelFunc

	reader *frameReader
	writer *frameWriter
	live   *liveness

	onError   func(err error)
	onStopped func()
}

// New creates an idle Session bound to base for logging and statistics.
func New(base *epbase.Base, config LivenessConfig) *Session {
	return &Session{base: base, config: config, idle: true}
}

// OnError sets the callback invoked (on its own goroutine) the first time
// the session observes a fatal I/O or liveness failure. At most one call
// per Start.
func (s *Session) OnError(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// OnStopped sets the callback invoked (on its own goroutine) once Stop has
// fully quiesced the session.
func (s *Session) OnStopped(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStopped = fn
}

// IsIdle reports whether the session currently owns no live connection.
func (s *Session) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// Start hands conn to the session and begins the read loop and liveness
// ping/pong. conn's remote address is used only for logging.
func (s *Session) Start(conn net.Conn) {
	sock.SetNoDelay(conn)

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.id = uuid.NewString()
	s.idle = false
	s.stopped = false
	s.cancel = cancel
	s.reader = newFrameReader(conn, s.base.Logger(), s.id)
	s.writer = newFrameWriter(conn, s.base.Logger(), s.id)
	s.live = newLiveness(s.config, s.sendPing, s.onLivenessTimeout)
	s.mu.Unlock()

	s.base.LogState(log.StateEntitySession, "", "ACTIVE", "started")

	s.live.start(ctx)
	go s.readLoop(ctx, conn.RemoteAddr().String())
}

// Stop tears the session down. OnStopped fires exactly once, asynchronously
// -- even for a session that was never Start-ed (the bound endpoint's
// pending slot before its first accept) -- so callers can treat every
// Stop uniformly as "await exactly one STOPPED".
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.idle {
		s.stopped = true
		hook := s.onStopped
		s.mu.Unlock()
		if hook != nil {
			go hook()
		}
		return
	}
	s.stopped = true
	conn := s.conn
	cancel := s.cancel
	live := s.live
	s.mu.Unlock()

	if live != nil {
		live.stop()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}

	go func() {
		s.mu.Lock()
		s.idle = true
		hook := s.onStopped
		s.mu.Unlock()
		s.base.LogState(log.StateEntitySession, "ACTIVE", "IDLE", "stopped")
		if hook != nil {
			hook()
		}
	}()
}

func (s *Session) readLoop(ctx context.Context, remoteAddr string) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()

	for {
		payload, err := reader.readFrame()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.fail(err)
			return
		}

		msg, err := wire.DecodeControlMessage(payload)
		if err != nil {
			s.fail(err)
			return
		}

		switch msg.Type {
		case wire.ControlPing:
			s.base.LogControl(log.DirectionIn, remoteAddr, log.ControlMsgPing)
			s.replyPong(msg.Sequence)
		case wire.ControlPong:
			s.base.LogControl(log.DirectionIn, remoteAddr, log.ControlMsgPong)
			s.mu.Lock()
			live := s.live
			s.mu.Unlock()
			if live != nil {
				live.pongReceived(msg.Sequence)
			}
		case wire.ControlClose:
			s.base.LogControl(log.DirectionIn, remoteAddr, log.ControlMsgClose)
			s.fail(errPeerClosed)
			return
		}
	}
}

func (s *Session) sendPing(seq uint32) error {
	s.mu.Lock()
	writer := s.writer
	s.mu.Unlock()
	if writer == nil {
		return errSessionIdle
	}
	data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlPing, Sequence: seq})
	if err != nil {
		return err
	}
	return writer.writeFrame(data)
}

func (s *Session) replyPong(seq uint32) {
	s.mu.Lock()
	writer := s.writer
	s.mu.Unlock()
	if writer == nil {
		return
	}
	data, err := wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlPong, Sequence: seq})
	if err != nil {
		return
	}
	_ = writer.writeFrame(data)
}

func (s *Session) onLivenessTimeout() {
	s.fail(errLivenessTimeout)
}

// fail delivers OnError exactly once per Start. The endpoint owning this
// session is responsible for calling Stop in response.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.idle {
		s.mu.Unlock()
		return
	}
	hook := s.onError
	already := s.stopped
	s.mu.Unlock()
	if already || hook == nil {
		return
	}
	s.base.LogTransportError(s.remoteAddrString(), err)
	hook(err)
}

func (s *Session) remoteAddrString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}
