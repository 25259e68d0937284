package endpoint

import "fmt"

// source identifies which sub-machine (or the public API) an event
// originated from, as part of the (source, type[, payload]) delivery
// contract.
type source uint8

const (
	srcFSM source = iota
	srcSocket
	srcSession
	srcDNS
	srcBackoff
)

func (s source) String() string {
	switch s {
	case srcFSM:
		return "FSM"
	case srcSocket:
		return "SOCKET"
	case srcSession:
		return "SESSION"
	case srcDNS:
		return "DNS"
	case srcBackoff:
		return "BACKOFF"
	default:
		return "UNKNOWN"
	}
}

// kind identifies the event type within a source, spanning every event
// name used across both endpoints. Not every kind is valid from every
// source; each endpoint's handler enforces that.
type kind uint8

const (
	evStart kind = iota
	evStop
	evConnected
	evAccepted
	evShutdown
	evStopped
	evError
	evDone
	evTimeout
)

func (k kind) String() string {
	switch k {
	case evStart:
		return "START"
	case evStop:
		return "STOP"
	case evConnected:
		return "CONNECTED"
	case evAccepted:
		return "ACCEPTED"
	case evShutdown:
		return "SHUTDOWN"
	case evStopped:
		return "STOPPED"
	case evError:
		return "ERROR"
	case evDone:
		return "DONE"
	case evTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// event is one tagged (source, kind[, payload]) delivery, the basic unit
// of endpoint data flow. childID identifies which accepted
// child a srcSession event belongs to in the bound endpoint (pendingChildID
// for the pending slot; 0 for the connected endpoint's single session).
type event struct {
	src     source
	kind    kind
	childID uint64
	payload any
	err     error
}

// dispatcher serializes event delivery to a single handler function, one
// per endpoint instance, on its own goroutine: handler invocations are
// serialized, so no two events for the same endpoint are ever processed
// concurrently. Sub-machine callbacks (which may run on arbitrary
// goroutines, including reentrantly from within a command the handler
// just issued) push onto ch; they never call the handler directly.
type dispatcher struct {
	ch      chan event
	handler func(event)
	done    chan struct{}
}

func newDispatcher(handler func(event)) *dispatcher {
	d := &dispatcher{
		ch:      make(chan event, 32),
		handler: handler,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for ev := range d.ch {
		d.handler(ev)
	}
}

// post enqueues an event for serialized handling. Safe to call from any
// goroutine, including from within the handler itself (reentrant
// self-delivery, used by a couple of transitions that want to fold a
// synthetic event through the same exhaustive switch as everything else).
func (d *dispatcher) post(ev event) {
	d.ch <- ev
}

// protocolViolation is the precise (state, source, kind) diagnostic for
// any event not valid in the current state: unexpected triples are
// programming errors and must abort.
func protocolViolation(state fmt.Stringer, ev event) {
	panic(fmt.Sprintf("endpoint: unexpected event in state %s: source=%s kind=%s", state, ev.src, ev.kind))
}
