package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Liveness monitoring defaults.
const (
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 5 * time.Second
	DefaultMaxMissedPongs = 3
)

// LivenessConfig configures ping/pong liveness monitoring.
type LivenessConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int
}

// DefaultLivenessConfig returns the default liveness configuration.
func DefaultLivenessConfig() LivenessConfig {
	return LivenessConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay is the maximum time liveness monitoring takes to notice a
// dead peer: PingInterval*MaxMissedPongs + PongTimeout.
func (c LivenessConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// liveness manages ping/pong liveness detection for one session. Grounded
// on pkg/transport.KeepAlive, renamed to match this module's vocabulary;
// the tick/timeout/pong-received state machine is unchanged.
type liveness struct {
	config LivenessConfig

	sendPing  func(seq uint32) error
	onTimeout func()

	sequence    atomic.Uint32
	missedPongs int
	lastPing    time.Time
	pendingPing uint32
	hasPending  bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	pongCh  chan uint32
}

func newLiveness(config LivenessConfig, sendPing func(seq uint32) error, onTimeout func()) *liveness {
	if config.PingInterval == 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.MaxMissedPongs == 0 {
		config.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return &liveness{
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		pongCh:    make(chan uint32, 1),
	}
}

func (lv *liveness) start(ctx context.Context) {
	lv.mu.Lock()
	if lv.running {
		lv.mu.Unlock()
		return
	}
	lv.running = true
	lv.stopCh = make(chan struct{})
	lv.mu.Unlock()

	go lv.loop(ctx)
}

func (lv *liveness) stop() {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	if !lv.running {
		return
	}
	lv.running = false
	close(lv.stopCh)
}

func (lv *liveness) pongReceived(seq uint32) {
	select {
	case lv.pongCh <- seq:
	default:
	}
}

func (lv *liveness) loop(ctx context.Context) {
	ticker := time.NewTicker(lv.config.PingInterval)
	defer ticker.Stop()

	lv.sendPingMessage()

	for {
		select {
		case <-ctx.Done():
			return
		case <-lv.stopCh:
			return
		case <-ticker.C:
			lv.handleTick()
		case seq := <-lv.pongCh:
			lv.handlePong(seq)
		}
	}
}

func (lv *liveness) sendPingMessage() {
	seq := lv.sequence.Add(1)

	lv.mu.Lock()
	lv.lastPing = time.Now()
	lv.pendingPing = seq
	lv.hasPending = true
	lv.mu.Unlock()

	if err := lv.sendPing(seq); err != nil {
		lv.mu.Lock()
		lv.hasPending = false
		lv.mu.Unlock()
	}
}

func (lv *liveness) handleTick() {
	lv.mu.Lock()
	if lv.hasPending && time.Since(lv.lastPing) >= lv.config.PongTimeout {
		lv.missedPongs++
		lv.hasPending = false
		if lv.missedPongs >= lv.config.MaxMissedPongs {
			lv.mu.Unlock()
			lv.onTimeout()
			return
		}
	}
	lv.mu.Unlock()
	lv.sendPingMessage()
}

func (lv *liveness) handlePong(seq uint32) {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	if lv.hasPending && seq == lv.pendingPing {
		lv.hasPending = false
		lv.missedPongs = 0
	}
}
