// Package log provides structured protocol logging for bound and connected
// endpoints.
//
// This package defines the Logger interface and Event types for capturing
// state-machine and session-level events. It is separate from operational
// logging (slog) - protocol capture provides a complete machine-readable
// event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by passing a Logger implementation to
// endpoint.NewBound / endpoint.NewConnected:
//
//	// For development: log to console via slog or zerolog
//	logger := log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	logger, _ := log.NewFileLogger("/var/log/conduit/listen.clog")
//
//	// Both: use MultiLogger
//	fileLogger, _ := log.NewFileLogger("/var/log/conduit/listen.clog")
//	logger := log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: raw frame sizes and liveness (FrameEvent)
//   - Session: ping/pong/close control messages (ControlMsgEvent)
//   - Endpoint: state-machine transitions (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Log files use CBOR encoding with a .clog extension. The conduit-log CLI
// tool provides viewing and filtering.
package log
