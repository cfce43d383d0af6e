// Package server exposes spell recognition over HTTP and WebSocket.
//
// Routes:
//
//	POST /v1/recognize   score one utterance against an archetype loadout
//	GET  /v1/spells      list the active catalogue
//	GET  /v1/stream      WebSocket; every text frame is one final transcript
//	GET  /healthz        liveness
//	GET  /readyz         readiness
//	GET  /metrics        Prometheus scrape endpoint
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/spellcast/internal/catalogue"
	"github.com/MrWong99/spellcast/internal/health"
	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/internal/session"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
	"github.com/MrWong99/spellcast/pkg/spell"
)

// httpPlayerID is the session name used for one-shot HTTP recognitions.
const httpPlayerID = "http"

// Catalogue is the read side of the spell catalogue the server needs.
// [*catalogue.MemStore] satisfies it.
type Catalogue interface {
	catalogue.Store
	Meta() spell.Meta
}

// Config holds the dependencies of a [Server].
type Config struct {
	// Catalogue resolves archetypes to spells. Required.
	Catalogue Catalogue

	// Manager builds the recognizers. Required.
	Manager *session.Manager

	// Language is used when a request names none. Defaults to English.
	Language spell.Language

	// Metrics wraps every route with [observe.Middleware]. May be nil.
	Metrics *observe.Metrics

	// Checkers are run by /readyz.
	Checkers []health.Checker

	// MetricsHandler serves /metrics. Defaults to [promhttp.Handler].
	MetricsHandler http.Handler
}

type bindingKey struct {
	archetype string
	lang      spell.Language
}

// Server serves the recognition API. Create one with [New].
type Server struct {
	store   Catalogue
	manager *session.Manager
	metrics *observe.Metrics
	health  *health.Handler
	prom    http.Handler

	lang atomic.Value // spell.Language

	mu       sync.Mutex
	sessions map[bindingKey]*session.Session
}

// New creates a [Server] from cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Catalogue == nil {
		return nil, errors.New("server: catalogue is required")
	}
	if cfg.Manager == nil {
		return nil, errors.New("server: session manager is required")
	}
	s := &Server{
		store:    cfg.Catalogue,
		manager:  cfg.Manager,
		metrics:  cfg.Metrics,
		health:   health.New(cfg.Checkers...),
		prom:     cfg.MetricsHandler,
		sessions: make(map[bindingKey]*session.Session),
	}
	if s.prom == nil {
		s.prom = promhttp.Handler()
	}
	lang := cfg.Language
	if lang == "" {
		lang = spell.English
	}
	if !lang.IsValid() {
		return nil, fmt.Errorf("server: unsupported default language %q", lang)
	}
	s.lang.Store(lang)
	return s, nil
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/recognize", s.handleRecognize)
	mux.HandleFunc("GET /v1/spells", s.handleSpells)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.Handle("GET /metrics", s.prom)
	s.health.Register(mux)

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

// SetLanguage changes the language used by requests that name none.
func (s *Server) SetLanguage(lang spell.Language) error {
	if !lang.IsValid() {
		return fmt.Errorf("server: unsupported language %q", lang)
	}
	s.lang.Store(lang)
	s.Invalidate()
	return nil
}

// Invalidate drops every cached binding so the next request rebuilds its
// recognizer from the current catalogue and manager options.
func (s *Server) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.sessions)
}

// requestError carries the HTTP status a failed lookup maps to.
type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// binding resolves archetype and language (either may be empty) to a
// session binding.
func (s *Server) binding(archetype, language string) (session.Binding, error) {
	lang := s.lang.Load().(spell.Language)
	if language != "" {
		lang = spell.Language(language)
	}
	if !lang.IsValid() {
		return session.Binding{}, &requestError{http.StatusBadRequest, fmt.Errorf("unsupported language %q", lang)}
	}

	spells, err := s.store.Loadout(archetype)
	switch {
	case errors.Is(err, catalogue.ErrNotFound):
		return session.Binding{}, &requestError{http.StatusNotFound, err}
	case errors.Is(err, catalogue.ErrEmpty):
		return session.Binding{}, &requestError{http.StatusServiceUnavailable, err}
	case err != nil:
		return session.Binding{}, &requestError{http.StatusInternalServerError, err}
	}
	return session.Binding{Archetype: archetype, Spells: spells, Language: lang}, nil
}

// session returns the cached one-shot session for b, building it on first use.
func (s *Server) session(b session.Binding) (*session.Session, error) {
	key := bindingKey{archetype: b.Archetype, lang: b.Language}

	s.mu.Lock()
	sess, ok := s.sessions[key]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	sess, err := s.manager.NewSession(httpPlayerID, b, nil)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if existing, ok := s.sessions[key]; ok {
		sess = existing
	} else {
		s.sessions[key] = sess
	}
	s.mu.Unlock()
	return sess, nil
}

// utterance is the shared request shape of /v1/recognize and stream frames.
type utterance struct {
	Text   string   `json:"text"`
	Tokens []string `json:"tokens"`
}

func (u utterance) empty() bool {
	return u.Text == "" && u.Tokens == nil
}

// transcript converts u into a final transcript. Tokens take precedence.
func (u utterance) transcript() stt.Transcript {
	tr := stt.Transcript{Text: u.Text, IsFinal: true}
	if len(u.Tokens) > 0 {
		tr.Words = make([]stt.WordDetail, len(u.Tokens))
		for i, tok := range u.Tokens {
			tr.Words[i] = stt.WordDetail{Word: tok}
		}
	}
	return tr
}

// castResponse is the JSON form of one [session.Event].
type castResponse struct {
	PlayerID   string  `json:"player_id,omitempty"`
	SpellID    string  `json:"spell_id"`
	SpellName  string  `json:"spell_name"`
	Phrase     string  `json:"phrase"`
	Similarity float64 `json:"similarity"`
	Accepted   bool    `json:"accepted"`
}

func newCastResponse(ev session.Event) castResponse {
	return castResponse{
		SpellID:    ev.Result.SpellID,
		SpellName:  ev.Result.Spell.Name,
		Phrase:     ev.Result.Phrase,
		Similarity: ev.Result.Similarity,
		Accepted:   ev.Accepted,
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the status carried by a requestError, or 500.
// Server-side failures are logged with the request's trace.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var re *requestError
	if errors.As(err, &re) {
		status = re.status
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("server: request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	http.Error(w, err.Error(), status)
}
