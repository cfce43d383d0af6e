// Package session turns a stream of ASR transcripts from one player into
// spell cast events.
//
// A [Session] owns one [recognizer.Recognizer] bound to the player's loadout.
// Every final transcript is scored; the best candidate is reported through
// the OnCast callback together with whether its similarity cleared the
// session threshold. The recognizer never applies a threshold itself, so this
// package is where silence and unrelated speech get rejected.
//
// A [Manager] keeps one Session per player and rebinds all of them when the
// catalogue or recognizer settings change at runtime.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
	"github.com/MrWong99/spellcast/pkg/recognizer"
	"github.com/MrWong99/spellcast/pkg/spell"
	"github.com/MrWong99/spellcast/pkg/tokenize"
)

// DefaultThreshold is the similarity a result must reach to count as a cast.
const DefaultThreshold = 0.6

// DefaultKeywordBoost is the STT boost applied to every trigger phrase word.
const DefaultKeywordBoost = 1.5

// Event is the outcome of one final transcript.
type Event struct {
	// PlayerID identifies the speaking player.
	PlayerID string

	// Result is the best-scoring candidate. With no usable speech it is the
	// first bound spell at similarity 0.
	Result recognizer.Result

	// Accepted is true when Result.Similarity reached the session threshold.
	Accepted bool

	// Transcript is the ASR input that produced this event.
	Transcript stt.Transcript

	// Latency is the time spent scoring.
	Latency time.Duration
}

// Config holds the dependencies of a [Session].
type Config struct {
	// PlayerID identifies the player. Required.
	PlayerID string

	// Archetype is the loadout name the session was bound with. Informational;
	// a [Manager] passes it back to the reload resolver.
	Archetype string

	// Recognizer scores transcripts. Required; it need not be initialised yet.
	Recognizer *recognizer.Recognizer

	// Threshold is the acceptance similarity. 0 selects [DefaultThreshold].
	Threshold float64

	// KeywordBoost is the boost applied to phrase words pushed to the STT
	// provider. 0 selects [DefaultKeywordBoost].
	KeywordBoost float64

	// OnCast receives every event. May be nil.
	OnCast func(Event)

	// Metrics records recognition outcomes. May be nil.
	Metrics *observe.Metrics
}

// Session processes the transcripts of one player. All exported methods are
// safe for concurrent use.
type Session struct {
	playerID  string
	archetype string
	threshold float64
	boost     float64
	onCast    func(Event)
	metrics   *observe.Metrics

	rec atomic.Pointer[recognizer.Recognizer]

	mu     sync.Mutex
	handle stt.SessionHandle
}

// New creates a [Session] from cfg.
func New(cfg Config) (*Session, error) {
	if cfg.PlayerID == "" {
		return nil, errors.New("session: player ID is required")
	}
	if cfg.Recognizer == nil {
		return nil, errors.New("session: recognizer is required")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("session: threshold %.2f is out of range [0, 1]", cfg.Threshold)
	}
	s := &Session{
		playerID:  cfg.PlayerID,
		archetype: cfg.Archetype,
		threshold: cfg.Threshold,
		boost:     cfg.KeywordBoost,
		onCast:    cfg.OnCast,
		metrics:   cfg.Metrics,
	}
	if s.threshold == 0 {
		s.threshold = DefaultThreshold
	}
	if s.boost == 0 {
		s.boost = DefaultKeywordBoost
	}
	s.rec.Store(cfg.Recognizer)
	return s, nil
}

// PlayerID returns the player this session belongs to.
func (s *Session) PlayerID() string { return s.playerID }

// Archetype returns the loadout name the session was bound with.
func (s *Session) Archetype() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archetype
}

// Threshold returns the acceptance similarity.
func (s *Session) Threshold() float64 { return s.threshold }

// Recognizer returns the recognizer currently in use.
func (s *Session) Recognizer() *recognizer.Recognizer { return s.rec.Load() }

// SetLoadout binds the session's recognizer to spells in lang and pushes the
// new keyword list to an attached STT stream.
func (s *Session) SetLoadout(spells []spell.Spell, lang spell.Language) error {
	if err := s.rec.Load().Initialize(spells, lang); err != nil {
		return fmt.Errorf("session: set loadout for %q: %w", s.playerID, err)
	}
	s.pushKeywords()
	return nil
}

// swap replaces the recognizer with an already initialised one.
func (s *Session) swap(r *recognizer.Recognizer, archetype string) {
	s.rec.Store(r)
	s.mu.Lock()
	s.archetype = archetype
	s.mu.Unlock()
	s.pushKeywords()
}

// Keywords returns STT keyword boosts for every distinct word of the active
// trigger phrases, in phrase order.
func (s *Session) Keywords() []stt.KeywordBoost {
	seen := make(map[string]struct{})
	var out []stt.KeywordBoost
	for _, p := range s.rec.Load().Phrases() {
		for _, tok := range tokenize.Tokenize(p) {
			if _, dup := seen[tok]; dup || !tokenize.HasLetter(tok) {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, stt.KeywordBoost{Keyword: tok, Boost: s.boost})
		}
	}
	return out
}

// Handle scores one transcript. Partial transcripts are ignored and reported
// with ok=false. Configuration errors from the recognizer are returned as is.
func (s *Session) Handle(ctx context.Context, tr stt.Transcript) (ev Event, ok bool, err error) {
	if !tr.IsFinal {
		return Event{}, false, nil
	}

	ctx, span := observe.StartSpan(ctx, "session.recognize",
		trace.WithAttributes(observe.Attr("spellcast.player_id", s.playerID)))
	defer span.End()

	rec := s.rec.Load()
	start := time.Now()
	var res recognizer.Result
	if tokens := tr.Tokens(); tokens != nil {
		res, err = rec.Recognize(tokens)
	} else {
		res, err = rec.RecognizeText(tr.Text)
	}
	latency := time.Since(start)
	if err != nil {
		observe.FailSpan(span, err)
		if s.metrics != nil {
			s.metrics.RecordRecognition(ctx, "", observe.OutcomeError, 0, latency)
		}
		return Event{}, false, err
	}

	accepted := res.Similarity > 0 && res.Similarity >= s.threshold
	ev = Event{
		PlayerID:   s.playerID,
		Result:     res,
		Accepted:   accepted,
		Transcript: tr,
		Latency:    latency,
	}
	span.SetAttributes(observe.RecognitionAttrs(s.playerID, res.SpellID, res.Similarity, accepted)...)

	if s.metrics != nil {
		outcome := observe.OutcomeRejected
		switch {
		case res.Heard == 0:
			outcome = observe.OutcomeSilence
		case accepted:
			outcome = observe.OutcomeAccepted
		}
		s.metrics.RecordRecognition(ctx, res.SpellID, outcome, res.Similarity, latency)
	}

	observe.Logger(ctx).Debug("session: transcript scored",
		"player_id", s.playerID,
		"text", tr.Text,
		"spell_id", res.SpellID,
		"similarity", res.Similarity,
		"accepted", accepted,
	)

	if s.onCast != nil {
		s.onCast(ev)
	}
	return ev, true, nil
}

// Run consumes finals until the channel is closed (returns nil) or ctx is
// cancelled (returns ctx.Err()). A recognizer configuration error stops the
// loop and is returned.
func (s *Session) Run(ctx context.Context, finals <-chan stt.Transcript) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-finals:
			if !ok {
				return nil
			}
			if _, _, err := s.Handle(ctx, tr); err != nil {
				return fmt.Errorf("session: player %q: %w", s.playerID, err)
			}
		}
	}
}

// Attach pushes the session keywords to handle, then runs on handle.Finals()
// until the stream ends or ctx is cancelled. The handle is closed on return.
// Providers without mid-session keyword support are accepted.
func (s *Session) Attach(ctx context.Context, handle stt.SessionHandle) error {
	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.handle == handle {
			s.handle = nil
		}
		s.mu.Unlock()
		if err := handle.Close(); err != nil {
			slog.Warn("session: close stt stream", "player_id", s.playerID, "err", err)
		}
	}()

	if err := handle.SetKeywords(s.Keywords()); err != nil && !errors.Is(err, stt.ErrNotSupported) {
		slog.Warn("session: set stt keywords", "player_id", s.playerID, "err", err)
	}
	return s.Run(ctx, handle.Finals())
}

// pushKeywords refreshes the keyword list of the attached stream, if any.
func (s *Session) pushKeywords() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.SetKeywords(s.Keywords()); err != nil && !errors.Is(err, stt.ErrNotSupported) {
		slog.Warn("session: refresh stt keywords", "player_id", s.playerID, "err", err)
	}
}
