// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (a hosted streaming
// API or a local Whisper server) and exposes a uniform streaming interface. The
// spell recognizer only consumes authoritative finals: each final transcript
// is one closed utterance that gets scored against the active spell phrases.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional SessionHandle operations that the
// underlying provider cannot perform (for example mid-session keyword updates).
var ErrNotSupported = errors.New("stt: operation not supported by provider")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000 (STT-optimised
	// mono), 48000 (Opus decode output).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "ru-RU").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition probability
	// for uncommon words such as invented spell names.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. All methods must
// be safe for concurrent use.
type SessionHandle interface {
	// Finals returns a read-only channel that emits authoritative Transcript values
	// once the provider has committed to a recognition result. The channel is
	// closed when the session ends.
	Finals() <-chan Transcript

	// SetKeywords replaces the active keyword boost list without restarting the
	// session. Providers that do not support mid-session keyword updates return
	// ErrNotSupported.
	SetKeywords(keywords []KeywordBoost) error

	// Close terminates the session and releases all associated resources. After
	// Close returns, the Finals channel will be closed. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Multiple sessions may be open simultaneously (one per player).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given audio
	// format and recognition configuration.
	//
	// Returns an error if the provider cannot establish the session (for example
	// an unsupported configuration, or ctx already cancelled). The caller owns the
	// SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
