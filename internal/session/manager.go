package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
	"github.com/MrWong99/spellcast/pkg/recognizer"
	"github.com/MrWong99/spellcast/pkg/spell"
	"github.com/MrWong99/spellcast/pkg/tokenize"
)

// Manager errors.
var (
	ErrSessionExists   = errors.New("session: player already has a session")
	ErrSessionNotFound = errors.New("session: no session for player")
)

// sharedCacheName labels the manager's phrase cache in metrics.
const sharedCacheName = "shared"

// Binding names the spells a session is bound to.
type Binding struct {
	// Archetype is the loadout name, "" for the full catalogue.
	Archetype string

	// Spells are the candidates in priority order.
	Spells []spell.Spell

	// Language selects which trigger phrases are scored.
	Language spell.Language
}

// ManagerConfig configures a [Manager].
type ManagerConfig struct {
	// Threshold is passed to every session. 0 selects [DefaultThreshold].
	Threshold float64

	// KeywordBoost is passed to every session.
	KeywordBoost float64

	// OnCast receives the events of every session. May be nil.
	OnCast func(Event)

	// Metrics records recognition outcomes, the active session count and the
	// shared cache statistics. May be nil.
	Metrics *observe.Metrics

	// Options configure every recognizer the manager builds. The shared
	// phrase cache is always added.
	Options []recognizer.Option
}

type managed struct {
	sess   *Session
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the sessions of all connected players. Every recognizer it
// builds shares one [tokenize.Cache], so the phrase cache must be prewarmed
// with the full catalogue through [Manager.Prewarm].
//
// All methods are safe for concurrent use.
type Manager struct {
	threshold float64
	boost     float64
	onCast    func(Event)
	metrics   *observe.Metrics
	cache     *tokenize.Cache

	mu       sync.Mutex
	opts     []recognizer.Option
	sessions map[string]*managed
}

// NewManager creates an empty [Manager].
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		threshold: cfg.Threshold,
		boost:     cfg.KeywordBoost,
		onCast:    cfg.OnCast,
		metrics:   cfg.Metrics,
		cache:     tokenize.NewCache(),
		opts:      slices.Clone(cfg.Options),
		sessions:  make(map[string]*managed),
	}
	if m.metrics != nil {
		m.metrics.WatchCache(sharedCacheName, m.cache)
	}
	return m
}

// Cache returns the phrase cache shared by all sessions.
func (m *Manager) Cache() *tokenize.Cache { return m.cache }

// Prewarm replaces the shared cache whitelist with phrases. Call it with
// every phrase of the catalogue before starting or reloading sessions.
func (m *Manager) Prewarm(phrases []string) {
	m.cache.Prewarm(phrases)
}

// SetOptions replaces the recognizer options used for sessions started or
// reloaded from now on.
func (m *Manager) SetOptions(opts ...recognizer.Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = slices.Clone(opts)
}

// NewRecognizer builds an uninitialised recognizer with the current options
// and the shared cache.
func (m *Manager) NewRecognizer() *recognizer.Recognizer {
	m.mu.Lock()
	opts := slices.Clone(m.opts)
	m.mu.Unlock()
	return recognizer.New(append(opts, recognizer.WithSharedCache(m.cache))...)
}

// NewSession builds a session bound to b that the manager does not track.
// Use it for short-lived connections such as a single WebSocket stream.
func (m *Manager) NewSession(playerID string, b Binding, onCast func(Event)) (*Session, error) {
	rec := m.NewRecognizer()
	if err := rec.Initialize(b.Spells, b.Language); err != nil {
		return nil, fmt.Errorf("session: bind %q: %w", playerID, err)
	}
	if onCast == nil {
		onCast = m.onCast
	}
	return New(Config{
		PlayerID:     playerID,
		Archetype:    b.Archetype,
		Recognizer:   rec,
		Threshold:    m.threshold,
		KeywordBoost: m.boost,
		OnCast:       onCast,
		Metrics:      m.metrics,
	})
}

// Start creates and registers a session for playerID bound to b. When finals
// is non-nil the session consumes it in a background goroutine until the
// channel closes, the session is stopped or ctx is cancelled.
func (m *Manager) Start(ctx context.Context, playerID string, b Binding, finals <-chan stt.Transcript) (*Session, error) {
	m.mu.Lock()
	_, exists := m.sessions[playerID]
	m.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, playerID)
	}

	sess, err := m.NewSession(playerID, b, nil)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	entry := &managed{sess: sess, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if _, exists := m.sessions[playerID]; exists {
		m.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, playerID)
	}
	m.sessions[playerID] = entry
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session started", "player_id", playerID, "archetype", b.Archetype, "language", b.Language)

	if finals == nil {
		close(entry.done)
		return sess, nil
	}
	go func() {
		defer close(entry.done)
		err := sess.Run(runCtx, finals)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("session stopped with error", "player_id", playerID, "err", err)
		}
	}()
	return sess, nil
}

// Get returns the session of playerID.
func (m *Manager) Get(playerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[playerID]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stop cancels the session of playerID and waits for its loop to return.
func (m *Manager) Stop(playerID string) error {
	m.mu.Lock()
	e, ok := m.sessions[playerID]
	delete(m.sessions, playerID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, playerID)
	}
	m.stop(e)
	return nil
}

// StopAll stops every session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()

	for _, e := range all {
		m.stop(e)
	}
}

func (m *Manager) stop(e *managed) {
	e.cancel()
	<-e.done
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("session stopped", "player_id", e.sess.PlayerID())
}

// Reload rebinds every session concurrently. resolve returns the new binding
// of a session; a fresh recognizer with the current options is initialised
// with it and swapped in, so in-flight transcripts finish against the old
// one. Sessions whose rebind fails keep their previous binding; all failures
// are returned joined.
func (m *Manager) Reload(ctx context.Context, resolve func(*Session) (Binding, error)) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.sess)
	}
	m.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range sessions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := resolve(s)
			if err == nil {
				rec := m.NewRecognizer()
				if err = rec.Initialize(b.Spells, b.Language); err == nil {
					s.swap(rec, b.Archetype)
					return nil
				}
			}
			mu.Lock()
			errs = append(errs, fmt.Errorf("session: reload %q: %w", s.PlayerID(), err))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
