package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/conduitmesh/conduit/pkg/log"
)

// Framing constants: a 4-byte length prefix ahead of each control message.
const (
	lengthPrefixSize  = 4
	maxControlMsgSize = 256 // control messages are tiny; this is generous
)

var (
	errFrameEmpty     = errors.New("session: frame is empty")
	errFrameTooLarge  = errors.New("session: frame exceeds max control message size")
	errFrameTruncated = errors.New("session: frame truncated")
)

// frameWriter writes length-prefixed frames, logging each one at the
// transport layer. Grounded on pkg/transport.FrameWriter, trimmed to the
// control-message-only size this module needs.
type frameWriter struct {
	w      io.Writer
	mu     sync.Mutex
	logger log.Logger
	connID string
}

func newFrameWriter(w io.Writer, logger log.Logger, connID string) *frameWriter {
	return &frameWriter{w: w, logger: logger, connID: connID}
}

func (fw *frameWriter) writeFrame(data []byte) error {
	if len(data) == 0 {
		return errFrameEmpty
	}
	if len(data) > maxControlMsgSize {
		return fmt.Errorf("%w: %d > %d", errFrameTooLarge, len(data), maxControlMsgSize)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := fw.w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("session: write length prefix: %w", err)
	}
	if _, err := fw.w.Write(data); err != nil {
		return fmt.Errorf("session: write payload: %w", err)
	}

	if fw.logger != nil {
		fw.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: fw.connID,
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryState,
			Frame:        &log.FrameEvent{Size: lengthPrefixSize + len(data)},
		})
	}
	return nil
}

// frameReader reads length-prefixed frames. Grounded on
// pkg/transport.FrameReader.
type frameReader struct {
	r         io.Reader
	lengthBuf [lengthPrefixSize]byte
	logger    log.Logger
	connID    string
}

func newFrameReader(r io.Reader, logger log.Logger, connID string) *frameReader {
	return &frameReader{r: r, logger: logger, connID: connID}
}

func (fr *frameReader) readFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errFrameTruncated
		}
		return nil, fmt.Errorf("session: read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length == 0 {
		return nil, errFrameEmpty
	}
	if length > maxControlMsgSize {
		return nil, fmt.Errorf("%w: %d > %d", errFrameTooLarge, length, maxControlMsgSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, errFrameTruncated
		}
		return nil, fmt.Errorf("session: read payload: %w", err)
	}

	if fr.logger != nil {
		fr.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: fr.connID,
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryState,
			Frame:        &log.FrameEvent{Size: lengthPrefixSize + len(payload)},
		})
	}
	return payload, nil
}
