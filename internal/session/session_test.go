package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/internal/session"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
	"github.com/MrWong99/spellcast/pkg/provider/stt/mock"
	"github.com/MrWong99/spellcast/pkg/recognizer"
	"github.com/MrWong99/spellcast/pkg/spell"
)

func mkSpell(id string, en ...string) spell.Spell {
	return spell.Spell{ID: id, Name: id, Phrases: map[spell.Language][]string{spell.English: en}}
}

func duel() []spell.Spell {
	return []spell.Spell{
		mkSpell("fire_bolt", "fire bolt", "firebolt"),
		mkSpell("ice_shard", "ice shard"),
	}
}

func final(text string) stt.Transcript {
	return stt.Transcript{Text: text, IsFinal: true}
}

// recorder collects OnCast events.
type recorder struct {
	mu     sync.Mutex
	events []session.Event
}

func (r *recorder) record(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Event, len(r.events))
	copy(out, r.events)
	return out
}

func newSession(t *testing.T, cfg session.Config) *session.Session {
	t.Helper()
	if cfg.PlayerID == "" {
		cfg.PlayerID = "alice"
	}
	if cfg.Recognizer == nil {
		cfg.Recognizer = recognizer.New()
		if err := cfg.Recognizer.Initialize(duel(), spell.English); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	s, err := session.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  session.Config
	}{
		{name: "missing player", cfg: session.Config{Recognizer: recognizer.New()}},
		{name: "missing recognizer", cfg: session.Config{PlayerID: "alice"}},
		{name: "negative threshold", cfg: session.Config{PlayerID: "alice", Recognizer: recognizer.New(), Threshold: -0.1}},
		{name: "threshold above one", cfg: session.Config{PlayerID: "alice", Recognizer: recognizer.New(), Threshold: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := session.New(tt.cfg); err == nil {
				t.Error("New: expected error, got nil")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s := newSession(t, session.Config{Archetype: "mage"})
	if got := s.Threshold(); got != session.DefaultThreshold {
		t.Errorf("Threshold() = %v, want %v", got, session.DefaultThreshold)
	}
	if got := s.PlayerID(); got != "alice" {
		t.Errorf("PlayerID() = %q, want %q", got, "alice")
	}
	if got := s.Archetype(); got != "mage" {
		t.Errorf("Archetype() = %q, want %q", got, "mage")
	}
}

func TestHandle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		tr           stt.Transcript
		wantID       string
		wantSim      float64
		wantAccepted bool
	}{
		{name: "exact", tr: final("ice shard"), wantID: "ice_shard", wantSim: 1, wantAccepted: true},
		{name: "one edit", tr: final("fyre bolt"), wantID: "fire_bolt", wantSim: 0.875, wantAccepted: true},
		{name: "silence", tr: final(""), wantID: "fire_bolt", wantSim: 0, wantAccepted: false},
		{
			name: "words preferred over text",
			tr: stt.Transcript{
				Text:    "fire bolt",
				IsFinal: true,
				Words:   []stt.WordDetail{{Word: "ice"}, {Word: "shard"}},
			},
			wantID: "ice_shard", wantSim: 1, wantAccepted: true,
		},
	}

	s := newSession(t, session.Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, ok, err := s.Handle(context.Background(), tt.tr)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if !ok {
				t.Fatal("Handle: ok = false for a final transcript")
			}
			if ev.Result.SpellID != tt.wantID {
				t.Errorf("SpellID = %q, want %q", ev.Result.SpellID, tt.wantID)
			}
			if ev.Result.Similarity != tt.wantSim {
				t.Errorf("Similarity = %v, want %v", ev.Result.Similarity, tt.wantSim)
			}
			if ev.Accepted != tt.wantAccepted {
				t.Errorf("Accepted = %v, want %v", ev.Accepted, tt.wantAccepted)
			}
			if ev.PlayerID != "alice" {
				t.Errorf("PlayerID = %q, want %q", ev.PlayerID, "alice")
			}
		})
	}
}

func TestHandle_UnrelatedSpeechRejected(t *testing.T) {
	t.Parallel()

	s := newSession(t, session.Config{})
	ev, _, err := s.Handle(context.Background(), final("hello world"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if ev.Accepted {
		t.Errorf("Accepted = true for unrelated speech (similarity %v)", ev.Result.Similarity)
	}
}

func TestHandle_CustomThreshold(t *testing.T) {
	t.Parallel()

	s := newSession(t, session.Config{Threshold: 0.9})
	ev, _, err := s.Handle(context.Background(), final("fyre bolt"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if ev.Accepted {
		t.Errorf("Accepted = true at similarity %v with threshold 0.9", ev.Result.Similarity)
	}
}

func TestHandle_PartialIgnored(t *testing.T) {
	t.Parallel()

	var rec recorder
	s := newSession(t, session.Config{OnCast: rec.record})
	_, ok, err := s.Handle(context.Background(), stt.Transcript{Text: "ice shard"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if ok {
		t.Error("Handle: ok = true for a partial transcript")
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("OnCast called %d times, want 0", n)
	}
}

func TestHandle_NotInitialized(t *testing.T) {
	t.Parallel()

	s := newSession(t, session.Config{Recognizer: recognizer.New()})
	_, _, err := s.Handle(context.Background(), final("ice shard"))
	if !errors.Is(err, recognizer.ErrConfiguration) {
		t.Errorf("Handle error = %v, want ErrConfiguration", err)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	var rec recorder
	s := newSession(t, session.Config{OnCast: rec.record})

	finals := make(chan stt.Transcript, 4)
	finals <- final("ice shard")
	finals <- stt.Transcript{Text: "fire"}
	finals <- final("fire bolt")
	close(finals)

	if err := s.Run(context.Background(), finals); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Result.SpellID != "ice_shard" || events[1].Result.SpellID != "fire_bolt" {
		t.Errorf("events = [%s %s], want [ice_shard fire_bolt]",
			events[0].Result.SpellID, events[1].Result.SpellID)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	t.Parallel()

	s := newSession(t, session.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, make(chan stt.Transcript))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestRun_StopsOnConfigurationError(t *testing.T) {
	t.Parallel()

	s := newSession(t, session.Config{Recognizer: recognizer.New()})
	finals := make(chan stt.Transcript, 1)
	finals <- final("ice shard")

	err := s.Run(context.Background(), finals)
	if !errors.Is(err, recognizer.ErrNotInitialized) {
		t.Errorf("Run error = %v, want ErrNotInitialized", err)
	}
}

func TestKeywords(t *testing.T) {
	t.Parallel()

	s := newSession(t, session.Config{KeywordBoost: 2})
	got := s.Keywords()
	want := []string{"fire", "bolt", "firebolt", "ice", "shard"}
	if len(got) != len(want) {
		t.Fatalf("Keywords() returned %d entries, want %d: %v", len(got), len(want), got)
	}
	for i, kw := range got {
		if kw.Keyword != want[i] {
			t.Errorf("Keywords()[%d].Keyword = %q, want %q", i, kw.Keyword, want[i])
		}
		if kw.Boost != 2 {
			t.Errorf("Keywords()[%d].Boost = %v, want 2", i, kw.Boost)
		}
	}
}

func TestKeywords_Deduplicated(t *testing.T) {
	t.Parallel()

	rec := recognizer.New()
	spells := []spell.Spell{
		mkSpell("a", "fire bolt"),
		mkSpell("b", "fire wall"),
	}
	if err := rec.Initialize(spells, spell.English); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s := newSession(t, session.Config{Recognizer: rec})

	got := s.Keywords()
	if len(got) != 3 {
		t.Fatalf("Keywords() = %v, want 3 entries", got)
	}
	if got[0].Boost != session.DefaultKeywordBoost {
		t.Errorf("Boost = %v, want %v", got[0].Boost, session.DefaultKeywordBoost)
	}
}

func TestSetLoadout(t *testing.T) {
	t.Parallel()

	s := newSession(t, session.Config{})
	if err := s.SetLoadout([]spell.Spell{mkSpell("heal", "heal")}, spell.English); err != nil {
		t.Fatalf("SetLoadout: %v", err)
	}
	ev, _, err := s.Handle(context.Background(), final("heal"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if ev.Result.SpellID != "heal" {
		t.Errorf("SpellID = %q, want heal", ev.Result.SpellID)
	}

	if err := s.SetLoadout(nil, spell.English); !errors.Is(err, recognizer.ErrNoCandidates) {
		t.Errorf("SetLoadout(nil) error = %v, want ErrNoCandidates", err)
	}
}

func TestAttach(t *testing.T) {
	t.Parallel()

	var rec recorder
	s := newSession(t, session.Config{OnCast: rec.record})

	handle := mock.NewSession(4)
	handle.SetKeywordsErr = stt.ErrNotSupported
	handle.Emit(final("ice shard"))
	handle.Emit(stt.Transcript{Text: "ice"})
	handle.Emit(final("fyre bolt"))
	_ = handle.Close()

	if err := s.Attach(context.Background(), handle); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if n := len(rec.all()); n != 2 {
		t.Errorf("got %d events, want 2", n)
	}
	calls := handle.KeywordCalls()
	if len(calls) != 1 {
		t.Fatalf("SetKeywords called %d times, want 1", len(calls))
	}
	if len(calls[0].Keywords) != 5 {
		t.Errorf("pushed %d keywords, want 5", len(calls[0].Keywords))
	}
	if got := handle.Closes(); got != 2 {
		t.Errorf("Close called %d times, want 2", got)
	}
}

func TestAttach_SetLoadoutRefreshesKeywords(t *testing.T) {
	t.Parallel()

	s := newSession(t, session.Config{})
	handle := mock.NewSession(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Attach(ctx, handle) }()

	waitFor(t, func() bool { return len(handle.KeywordCalls()) == 1 })

	if err := s.SetLoadout([]spell.Spell{mkSpell("heal", "heal")}, spell.English); err != nil {
		t.Fatalf("SetLoadout: %v", err)
	}
	calls := handle.KeywordCalls()
	if len(calls) != 2 {
		t.Fatalf("SetKeywords called %d times, want 2", len(calls))
	}
	if kw := calls[1].Keywords; len(kw) != 1 || kw[0].Keyword != "heal" {
		t.Errorf("refreshed keywords = %v, want [heal]", kw)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Attach error = %v, want context.Canceled", err)
	}
	if got := handle.Closes(); got != 1 {
		t.Errorf("Close called %d times, want 1", got)
	}
}

// newManualMetrics returns Metrics backed by a reader the test collects from.
func newManualMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collectOutcomes sums the recognitions counter by outcome.
func collectOutcomes(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	outcomes := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "spellcast.recognitions" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("spellcast.recognitions data type = %T, want Sum[int64]", met.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("outcome")
				outcomes[v.AsString()] += dp.Value
			}
		}
	}
	return outcomes
}

func TestHandle_RecordsMetrics(t *testing.T) {
	t.Parallel()

	m, reader := newManualMetrics(t)
	s := newSession(t, session.Config{Metrics: m})
	for _, text := range []string{"ice shard", "", "hello world"} {
		if _, _, err := s.Handle(context.Background(), final(text)); err != nil {
			t.Fatalf("Handle(%q): %v", text, err)
		}
	}

	outcomes := collectOutcomes(t, reader)
	for _, want := range []string{observe.OutcomeAccepted, observe.OutcomeSilence, observe.OutcomeRejected} {
		if outcomes[want] != 1 {
			t.Errorf("outcome %q count = %d, want 1", want, outcomes[want])
		}
	}
}

func TestHandle_FilteredWordsCountAsSilence(t *testing.T) {
	t.Parallel()

	rec := recognizer.New(recognizer.WithMinTokenLength(2))
	if err := rec.Initialize(duel(), spell.English); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m, reader := newManualMetrics(t)
	s := newSession(t, session.Config{Recognizer: rec, Metrics: m})

	tr := stt.Transcript{
		Text:    " .",
		IsFinal: true,
		Words:   []stt.WordDetail{{Word: " "}, {Word: "."}},
	}
	ev, ok, err := s.Handle(context.Background(), tr)
	if err != nil || !ok {
		t.Fatalf("Handle() ok=%v err=%v", ok, err)
	}
	if ev.Accepted || ev.Result.Similarity != 0 || ev.Result.Phrase != "" {
		t.Errorf("Handle() = %+v, want unmatched zero-similarity result", ev.Result)
	}

	outcomes := collectOutcomes(t, reader)
	if outcomes[observe.OutcomeSilence] != 1 || outcomes[observe.OutcomeRejected] != 0 {
		t.Errorf("outcomes = %v, want one silence and no rejected", outcomes)
	}
}
