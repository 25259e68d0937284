// Package endpoint implements the two transport endpoint state machines
// this module exists to provide: Bound (bind/accept/retry) and Connected
// (resolve/connect/reconnect with backoff).
//
// Both are tagged-event state machines built around a single
// (state, source, event) dispatch function per endpoint: each endpoint
// runs its own dispatcher goroutine (see dispatch.go), reading a channel
// of sub-machine events and folding them into the state field with an
// exhaustive switch. A triple the switch doesn't recognize is a
// programming error and panics with the offending (state, source, event),
// giving a precise diagnostic instead of silently misbehaving.
package endpoint
