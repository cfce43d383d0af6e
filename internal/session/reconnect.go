package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/spellcast/pkg/provider/stt"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrRetriesExhausted is returned when every reconnection attempt failed.
var ErrRetriesExhausted = errors.New("session: stt reconnection failed after max retries")

// Reconnector opens STT streams for a session and reopens them with
// exponential backoff when a provider drops the connection.
//
// A Reconnector holds no per-stream state and is safe for concurrent use.
type Reconnector struct {
	provider    stt.Provider
	stream      stt.StreamConfig
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(attempt int)
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Provider opens STT streams. Required.
	Provider stt.Provider

	// Stream is passed to every StartStream call. Keywords are replaced by
	// the session's own list when the stream is attached.
	Stream stt.StreamConfig

	// MaxRetries is the maximum number of reconnection attempts before giving up.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful reconnection with the attempt
	// number that succeeded. May be nil.
	OnReconnect func(attempt int)
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		provider:    cfg.Provider,
		stream:      cfg.Stream,
		maxRetries:  maxRetries,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		onReconnect: cfg.OnReconnect,
	}
}

// Connect opens the initial stream.
func (r *Reconnector) Connect(ctx context.Context) (stt.SessionHandle, error) {
	h, err := r.provider.StartStream(ctx, r.stream)
	if err != nil {
		return nil, fmt.Errorf("session: start stt stream: %w", err)
	}
	return h, nil
}

// Reconnect reopens the stream with exponential backoff. It returns
// [ErrRetriesExhausted] when every attempt failed, or ctx.Err() when ctx is
// cancelled while waiting.
func (r *Reconnector) Reconnect(ctx context.Context) (stt.SessionHandle, error) {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slog.Info("attempting stt reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		h, err := r.provider.StartStream(ctx, r.stream)
		if err == nil {
			slog.Info("stt reconnection successful", "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(attempt)
			}
			return h, nil
		}

		slog.Warn("stt reconnection attempt failed",
			"attempt", attempt,
			"error", err,
		)

		if attempt == r.maxRetries {
			break
		}

		// Wait before retrying.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(currentBackoff):
		}

		// Exponential backoff.
		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("stt reconnection failed after max retries", "max_retries", r.maxRetries)
	return nil, ErrRetriesExhausted
}

// Listen attaches s to streams opened by r until ctx is cancelled. Whenever
// a stream ends on the provider side it is reopened through
// [Reconnector.Reconnect]. Returns ctx.Err() on cancellation, or the first
// connection or recognition error.
func (s *Session) Listen(ctx context.Context, r *Reconnector) error {
	h, err := r.Connect(ctx)
	if err != nil {
		return err
	}
	for {
		if err := s.Attach(ctx, h); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Warn("stt stream closed by provider", "player_id", s.playerID)
		if h, err = r.Reconnect(ctx); err != nil {
			return fmt.Errorf("session: player %q: %w", s.playerID, err)
		}
	}
}
