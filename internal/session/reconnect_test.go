package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/spellcast/pkg/provider/stt"
	"github.com/MrWong99/spellcast/pkg/provider/stt/mock"
	"github.com/MrWong99/spellcast/pkg/recognizer"
	"github.com/MrWong99/spellcast/pkg/spell"
)

func TestReconnector_Connect(t *testing.T) {
	t.Run("successful initial connection", func(t *testing.T) {
		sess := mock.NewSession(1)
		provider := &mock.Provider{Session: sess}

		r := NewReconnector(ReconnectorConfig{
			Provider: provider,
			Stream:   stt.StreamConfig{SampleRate: 16000, Language: "en"},
		})

		got, err := r.Connect(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != sess {
			t.Error("expected returned handle to match mock")
		}

		calls := provider.Calls()
		if len(calls) != 1 {
			t.Fatalf("expected 1 StartStream call, got %d", len(calls))
		}
		if calls[0].Cfg.SampleRate != 16000 {
			t.Errorf("expected sample rate 16000, got %d", calls[0].Cfg.SampleRate)
		}
	})

	t.Run("connection failure", func(t *testing.T) {
		provider := &mock.Provider{StartStreamErr: errors.New("auth failed")}

		r := NewReconnector(ReconnectorConfig{Provider: provider})

		if _, err := r.Connect(context.Background()); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

func TestReconnector_Defaults(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{Provider: &mock.Provider{}})

	if r.maxRetries != 10 {
		t.Errorf("expected default maxRetries=10, got %d", r.maxRetries)
	}
	if r.backoff != 1*time.Second {
		t.Errorf("expected default backoff=1s, got %v", r.backoff)
	}
	if r.maxBackoff != 30*time.Second {
		t.Errorf("expected default maxBackoff=30s, got %v", r.maxBackoff)
	}
}

func TestReconnector_ExponentialBackoff(t *testing.T) {
	var attempts atomic.Int32
	provider := &failNTimesProvider{failTimes: 3, count: &attempts}

	var reconnectedAt atomic.Int32
	r := NewReconnector(ReconnectorConfig{
		Provider:   provider,
		MaxRetries: 5,
		Backoff:    1 * time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
		OnReconnect: func(attempt int) {
			reconnectedAt.Store(int32(attempt))
		},
	})

	h, err := r.Reconnect(context.Background())
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if h == nil {
		t.Fatal("expected a handle after successful reconnection")
	}

	// 3 failures + 1 success.
	if got := attempts.Load(); got != 4 {
		t.Errorf("expected 4 StartStream attempts, got %d", got)
	}
	if got := reconnectedAt.Load(); got != 4 {
		t.Errorf("expected OnReconnect with attempt 4, got %d", got)
	}
}

func TestReconnector_MaxRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	provider := &failNTimesProvider{failTimes: 100, count: &attempts}

	var reconnected atomic.Bool
	r := NewReconnector(ReconnectorConfig{
		Provider:    provider,
		MaxRetries:  2,
		Backoff:     1 * time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		OnReconnect: func(int) { reconnected.Store(true) },
	})

	_, err := r.Reconnect(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if reconnected.Load() {
		t.Error("expected OnReconnect NOT to be called when all retries fail")
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 StartStream attempts, got %d", got)
	}
}

func TestReconnector_ContextCancelled(t *testing.T) {
	var attempts atomic.Int32
	provider := &failNTimesProvider{failTimes: 100, count: &attempts}

	r := NewReconnector(ReconnectorConfig{
		Provider:   provider,
		MaxRetries: 5,
		Backoff:    time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := r.Reconnect(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected 1 StartStream attempt before cancellation, got %d", got)
	}
}

func TestSession_ListenReconnects(t *testing.T) {
	rec := recognizer.New()
	if err := rec.Initialize([]spell.Spell{
		{ID: "ice_shard", Phrases: map[spell.Language][]string{spell.English: {"ice shard"}}},
	}, spell.English); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var events atomic.Int32
	s, err := New(Config{
		PlayerID:   "alice",
		Recognizer: rec,
		OnCast:     func(Event) { events.Add(1) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := mock.NewSession(1)
	second := mock.NewSession(1)
	provider := &sequenceProvider{handles: []*mock.Session{first, second}}

	var reconnects atomic.Int32
	r := NewReconnector(ReconnectorConfig{
		Provider:    provider,
		Backoff:     time.Millisecond,
		OnReconnect: func(int) { reconnects.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Listen(ctx, r) }()

	// The first stream delivers one cast and is then dropped by the provider.
	first.Emit(stt.Transcript{Text: "ice shard", IsFinal: true})
	_ = first.Close()

	second.Emit(stt.Transcript{Text: "ice shard", IsFinal: true})

	deadline := time.Now().Add(2 * time.Second)
	for events.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 events, got %d", events.Load())
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Listen error = %v, want context.Canceled", err)
	}
	if got := reconnects.Load(); got != 1 {
		t.Errorf("expected 1 reconnection, got %d", got)
	}
	if got := second.Closes(); got != 1 {
		t.Errorf("expected the second stream to be closed once, got %d", got)
	}
}

// failNTimesProvider fails the first N StartStream calls, then succeeds.
type failNTimesProvider struct {
	failTimes int
	count     *atomic.Int32
}

func (p *failNTimesProvider) StartStream(_ context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	n := p.count.Add(1)
	if int(n) <= p.failTimes {
		return nil, errors.New("connection failed")
	}
	return mock.NewSession(1), nil
}

// sequenceProvider hands out handles from a list, repeating the last one.
type sequenceProvider struct {
	mu      sync.Mutex
	handles []*mock.Session
	calls   int
}

func (p *sequenceProvider) StartStream(_ context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := min(p.calls, len(p.handles)-1)
	p.calls++
	return p.handles[idx], nil
}
