// Package app wires all spellcast subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the catalogue and builds
// the session manager and HTTP server, Run serves until the context is
// cancelled, Reconfigure applies hot-reloaded configuration, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithOnCast, ...). When an option is not provided, New uses defaults.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/spellcast/internal/catalogue"
	"github.com/MrWong99/spellcast/internal/config"
	"github.com/MrWong99/spellcast/internal/health"
	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/internal/server"
	"github.com/MrWong99/spellcast/internal/session"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
	"github.com/MrWong99/spellcast/pkg/recognizer"
	"github.com/MrWong99/spellcast/pkg/spell"
)

// shutdownTimeout bounds how long Run waits for in-flight HTTP requests.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	store    *catalogue.MemStore
	manager  *session.Manager
	server   *server.Server
	metrics  *observe.Metrics
	promh    http.Handler
	level    *slog.LevelVar
	onCast   func(session.Event)
	listener net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records metrics into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves /metrics with h instead of the default
// Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.promh = h }
}

// WithLevelVar lets Reconfigure change the log level of the handler that
// uses lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithOnCast receives every recognition event of managed sessions. The
// default logs accepted casts.
func WithOnCast(fn func(session.Event)) Option {
	return func(a *App) { a.onCast = fn }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg: it loads and lints the catalogue, prewarms
// the shared phrase cache, checks that the default loadout binds, and builds
// the HTTP server.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		store:  catalogue.NewMemStore(),
		onCast: logCast,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Catalogue ─────────────────────────────────────────────────────
	if err := a.loadCatalogue(cfg); err != nil {
		return nil, fmt.Errorf("app: init catalogue: %w", err)
	}

	// ── 2. Session manager ───────────────────────────────────────────────
	a.manager = session.NewManager(session.ManagerConfig{
		Threshold: cfg.Recognizer.Threshold,
		OnCast:    a.onCast,
		Metrics:   a.metrics,
		Options:   RecognizerOptions(cfg.Recognizer),
	})
	a.manager.Prewarm(a.store.Phrases())
	a.closers = append(a.closers, func() error {
		a.manager.StopAll()
		return nil
	})

	// ── 3. Default binding ───────────────────────────────────────────────
	if _, err := a.binding(cfg); err != nil {
		return nil, fmt.Errorf("app: default loadout: %w", err)
	}

	// ── 4. HTTP server ───────────────────────────────────────────────────
	srv, err := server.New(server.Config{
		Catalogue:      a.store,
		Manager:        a.manager,
		Language:       cfg.Recognizer.Language,
		Metrics:        a.metrics,
		MetricsHandler: a.promh,
		Checkers: []health.Checker{
			health.Ready("catalogue", a.store.Loaded, "no catalogue loaded"),
			{Name: "recognizer", Check: a.checkRecognizer},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.server = srv

	slog.Info("app initialised",
		"catalogue", a.store.Meta().Name,
		"spells", len(a.store.List()),
		"archetypes", len(a.store.Archetypes()),
		"language", cfg.Recognizer.Language,
	)
	return a, nil
}

// RecognizerOptions converts recognizer settings into recognizer options.
func RecognizerOptions(rc config.RecognizerConfig) []recognizer.Option {
	return []recognizer.Option{
		recognizer.WithMaxMergeSpan(rc.MaxMergeSpan),
		recognizer.WithMinTokenLength(rc.MinTokenLength),
		recognizer.WithResultCache(rc.ResultCacheSize),
		recognizer.WithParallelism(rc.Parallelism),
		recognizer.WithWarmAllLanguages(rc.WarmAllLanguages),
	}
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// loadCatalogue reads the catalogue file into the store and reports
// confusable phrases.
func (a *App) loadCatalogue(cfg *config.Config) error {
	file, err := spell.LoadFile(cfg.Catalogue.Path)
	if err != nil {
		return err
	}
	if err := a.store.Replace(file); err != nil {
		return fmt.Errorf("catalogue %q: %w", cfg.Catalogue.Path, err)
	}
	slog.Info("loaded spell catalogue", "path", cfg.Catalogue.Path, "spells", len(file.Spells))

	for _, c := range a.store.Confusables(cfg.Recognizer.Language, cfg.Catalogue.ConfusableThreshold) {
		slog.Warn("confusable trigger phrases",
			"spell_a", c.SpellA, "phrase_a", c.PhraseA,
			"spell_b", c.SpellB, "phrase_b", c.PhraseB,
			"score", c.Score,
			"phonetic", c.Phonetic,
		)
	}
	return nil
}

// binding resolves the default loadout of cfg.
func (a *App) binding(cfg *config.Config) (session.Binding, error) {
	spells, err := a.store.Loadout(cfg.Catalogue.Archetype)
	if err != nil {
		return session.Binding{}, err
	}
	return session.Binding{
		Archetype: cfg.Catalogue.Archetype,
		Spells:    spells,
		Language:  cfg.Recognizer.Language,
	}, nil
}

// checkRecognizer reports whether a recognizer can be bound to the default
// loadout.
func (a *App) checkRecognizer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := a.binding(a.Config())
	if err != nil {
		return err
	}
	return a.manager.NewRecognizer().Initialize(b.Spells, b.Language)
}

// logCast is the default OnCast callback.
func logCast(ev session.Event) {
	if !ev.Accepted {
		return
	}
	slog.Info("spell cast",
		"player_id", ev.PlayerID,
		"spell_id", ev.Result.SpellID,
		"phrase", ev.Result.Phrase,
		"similarity", ev.Result.Similarity,
	)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Handler returns the instrumented HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Catalogue returns the spell store.
func (a *App) Catalogue() *catalogue.MemStore { return a.store }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
// It returns ctx.Err() after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.Config().Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	httpSrv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Stream binds a managed session for playerID to the default loadout and
// feeds it from one stream of p until the stream ends or ctx is cancelled.
func (a *App) Stream(ctx context.Context, playerID string, p stt.Provider) error {
	return a.stream(ctx, playerID, p, false)
}

// Listen is like Stream but reopens the stream with backoff whenever the
// provider closes it, until ctx is cancelled or reconnection gives up.
func (a *App) Listen(ctx context.Context, playerID string, p stt.Provider) error {
	return a.stream(ctx, playerID, p, true)
}

func (a *App) stream(ctx context.Context, playerID string, p stt.Provider, reconnect bool) error {
	cfg := a.Config()
	b, err := a.binding(cfg)
	if err != nil {
		return fmt.Errorf("app: stream: %w", err)
	}
	sess, err := a.manager.Start(ctx, playerID, b, nil)
	if err != nil {
		return fmt.Errorf("app: stream: %w", err)
	}
	defer func() { _ = a.manager.Stop(playerID) }()

	r := session.NewReconnector(session.ReconnectorConfig{
		Provider: p,
		Stream: stt.StreamConfig{
			SampleRate: 16000,
			Channels:   1,
			Language:   string(b.Language),
			Keywords:   sess.Keywords(),
		},
	})
	if !reconnect {
		handle, err := r.Connect(ctx)
		if err != nil {
			return fmt.Errorf("app: stream: %w", err)
		}
		return sess.Attach(ctx, handle)
	}
	return sess.Listen(ctx, r)
}

// ─── Reconfigure ─────────────────────────────────────────────────────────────

// Reconfigure applies the changes between old and new. It is the callback
// of the [config.Watcher]. Failures are logged and the previous state kept.
func (a *App) Reconfigure(ctx context.Context, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	for _, field := range d.RestartRequired {
		slog.Warn("config change requires restart", "field", field)
	}
	if old.Recognizer.Threshold != new.Recognizer.Threshold {
		slog.Warn("config change requires restart", "field", "recognizer.threshold")
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if !d.CatalogueChanged && !d.RecognizerChanged {
		a.setConfig(new)
		return
	}

	if d.CatalogueChanged {
		if err := a.loadCatalogue(new); err != nil {
			slog.Error("catalogue reload failed, keeping previous catalogue", "err", err)
			return
		}
		a.manager.Prewarm(a.store.Phrases())
	}
	if d.RecognizerChanged {
		a.manager.SetOptions(RecognizerOptions(new.Recognizer)...)
		if err := a.server.SetLanguage(new.Recognizer.Language); err != nil {
			slog.Error("language change failed", "err", err)
		}
	}
	a.server.Invalidate()
	a.setConfig(new)

	err := a.manager.Reload(ctx, func(s *session.Session) (session.Binding, error) {
		spells, err := a.store.Loadout(s.Archetype())
		if err != nil {
			return session.Binding{}, err
		}
		return session.Binding{Archetype: s.Archetype(), Spells: spells, Language: new.Recognizer.Language}, nil
	})
	if err != nil {
		slog.Warn("some sessions kept their previous loadout", "err", err)
	}
	slog.Info("configuration applied",
		"catalogue_changed", d.CatalogueChanged,
		"recognizer_changed", d.RecognizerChanged,
		"sessions", a.manager.Count(),
	)
}

func (a *App) setConfig(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
