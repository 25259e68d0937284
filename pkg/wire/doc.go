// Package wire defines the CBOR wire format for session-level control
// messages exchanged between a bound endpoint's session and a connected
// endpoint's session.
//
// This module has no application message layer; the only thing that
// crosses the wire at this level is the ControlMessage (ping/pong/close)
// used to detect liveness and coordinate graceful shutdown.
//
// # CBOR Integer Keys
//
// Control messages use integer keys for compactness, matching the
// encoding style of pkg/log's event format.
package wire
