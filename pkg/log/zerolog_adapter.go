package log

import "github.com/rs/zerolog"

// ZerologAdapter writes protocol events through a zerolog.Logger, for CLIs
// that want structured console output instead of (or alongside) a CBOR
// file log. Mirrors SlogAdapter's field layout so the two are interchangeable.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a ZerologAdapter that writes to the given logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Log writes the event at debug level, one structured line per event.
func (a *ZerologAdapter) Log(event Event) {
	e := a.logger.Debug().
		Str("conn_id", event.ConnectionID).
		Str("layer", event.Layer.String()).
		Str("category", event.Category.String()).
		Str("kind", event.Kind.String())

	e = e.Str("direction", event.Direction.String())
	if event.RemoteAddr != "" {
		e = e.Str("remote_addr", event.RemoteAddr)
	}

	switch {
	case event.Frame != nil:
		e = e.Int("frame_size", event.Frame.Size).Bool("truncated", event.Frame.Truncated)
	case event.StateChange != nil:
		e = e.Str("entity", event.StateChange.Entity.String()).
			Str("old_state", event.StateChange.OldState).
			Str("new_state", event.StateChange.NewState)
		if event.StateChange.Reason != "" {
			e = e.Str("reason", event.StateChange.Reason)
		}
	case event.ControlMsg != nil:
		e = e.Str("ctrl_type", event.ControlMsg.Type.String())
	case event.Error != nil:
		e = e.Str("error_layer", event.Error.Layer.String()).
			Str("error_msg", event.Error.Message).
			Str("error_context", event.Error.Context)
		if event.Error.Code != nil {
			e = e.Int("error_code", *event.Error.Code)
		}
	}

	e.Msg("protocol")
}

// Compile-time interface satisfaction check.
var _ Logger = (*ZerologAdapter)(nil)
