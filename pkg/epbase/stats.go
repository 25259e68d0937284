package epbase

import "sync/atomic"

// StatKind identifies one of the statistics the endpoint base tracks.
type StatKind int

const (
	StatInprogressConnections StatKind = iota
	StatEstablishedConnections
	StatBrokenConnections
	StatConnectErrors
	StatDroppedConnections
)

func (k StatKind) String() string {
	switch k {
	case StatInprogressConnections:
		return "INPROGRESS_CONNECTIONS"
	case StatEstablishedConnections:
		return "ESTABLISHED_CONNECTIONS"
	case StatBrokenConnections:
		return "BROKEN_CONNECTIONS"
	case StatConnectErrors:
		return "CONNECT_ERRORS"
	case StatDroppedConnections:
		return "DROPPED_CONNECTIONS"
	default:
		return "UNKNOWN"
	}
}

// Stats holds the five connection counters, each independently atomic so
// concurrent readers (CLI status commands, tests) never race with the
// dispatcher goroutine incrementing them.
type Stats struct {
	inprogress    atomic.Int64
	established   atomic.Int64
	broken        atomic.Int64
	connectErrors atomic.Int64
	dropped       atomic.Int64
}

// Increment adds delta (which may be negative, e.g. decrementing
// INPROGRESS_CONNECTIONS on connect failure) to the named counter.
func (s *Stats) Increment(kind StatKind, delta int64) {
	s.counter(kind).Add(delta)
}

// Value returns the current value of the named counter.
func (s *Stats) Value(kind StatKind) int64 {
	return s.counter(kind).Load()
}

func (s *Stats) counter(kind StatKind) *atomic.Int64 {
	switch kind {
	case StatInprogressConnections:
		return &s.inprogress
	case StatEstablishedConnections:
		return &s.established
	case StatBrokenConnections:
		return &s.broken
	case StatConnectErrors:
		return &s.connectErrors
	case StatDroppedConnections:
		return &s.dropped
	default:
		panic("epbase: unknown stat kind")
	}
}

// Snapshot returns a point-in-time copy of all five counters, keyed by
// kind, for logging and test assertions.
func (s *Stats) Snapshot() map[StatKind]int64 {
	return map[StatKind]int64{
		StatInprogressConnections:  s.inprogress.Load(),
		StatEstablishedConnections: s.established.Load(),
		StatBrokenConnections:      s.broken.Load(),
		StatConnectErrors:          s.connectErrors.Load(),
		StatDroppedConnections:     s.dropped.Load(),
	}
}
