// Package stt streams room audio to a speech-to-text service and delivers
// finalized transcripts.
//
// A Listener opens one Stream per bot. Only finalized, non-empty segments
// reach the OnTranscript callback; interim partials are dropped.
package stt

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoAPIKey is returned when the service key is missing.
	ErrNoAPIKey = errors.New("stt: API key required")

	// ErrClosed is returned when sending on a closed stream.
	ErrClosed = errors.New("stt: stream closed")
)

// Transcript is a finalized text segment.
type Transcript struct {
	ConnectionID string
	Text         string
	Confidence   float64
	Received     time.Time
}

// Listener opens transcript streams.
type Listener interface {
	Open(ctx context.Context, connectionID string) (Stream, error)
}

// Stream is one open transcription connection.
type Stream interface {
	// ID returns the connection id the stream was opened with.
	ID() string

	// OnTranscript registers the callback for finalized segments. It
	// replaces any earlier callback and may be called at any time.
	OnTranscript(fn func(Transcript))

	// SendAudio forwards one chunk of PCM16 audio.
	SendAudio(chunk []byte) error

	// Close releases the connection. It is idempotent.
	Close() error
}
