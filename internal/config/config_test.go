package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/spellcast/internal/config"
	"github.com/MrWong99/spellcast/pkg/spell"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9000"
  log_level: debug

recognizer:
  language: ru
  max_merge_span: 4
  min_token_length: 2
  threshold: 0.7
  result_cache_size: 64
  parallelism: 4
  warm_all_languages: true

catalogue:
  path: /etc/spellcast/spells.yaml
  archetype: mage

telemetry:
  service_name: spellcast-test
`

// ── tests ────────────────────────────────────────────────────────────────────

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("server.listen_addr = %q, want %q", cfg.Server.ListenAddr, ":9000")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level = %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}

	want := config.RecognizerConfig{
		Language:         spell.Russian,
		MaxMergeSpan:     4,
		MinTokenLength:   2,
		Threshold:        0.7,
		ResultCacheSize:  64,
		Parallelism:      4,
		WarmAllLanguages: true,
	}
	if cfg.Recognizer != want {
		t.Errorf("recognizer = %+v, want %+v", cfg.Recognizer, want)
	}
	if cfg.Catalogue.Path != "/etc/spellcast/spells.yaml" || cfg.Catalogue.Archetype != "mage" {
		t.Errorf("catalogue = %+v", cfg.Catalogue)
	}
	if cfg.Telemetry.ServiceName != "spellcast-test" {
		t.Errorf("telemetry.service_name = %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("catalogue:\n  path: spells.yaml\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	r := cfg.Recognizer
	if r.Language != spell.English {
		t.Errorf("language = %q, want en", r.Language)
	}
	if r.MaxMergeSpan != 3 {
		t.Errorf("max_merge_span = %d, want 3", r.MaxMergeSpan)
	}
	if r.MinTokenLength != 1 {
		t.Errorf("min_token_length = %d, want 1", r.MinTokenLength)
	}
	if r.Threshold != 0.6 {
		t.Errorf("threshold = %v, want 0.6", r.Threshold)
	}
	if r.ResultCacheSize != config.DefaultResultCacheSize {
		t.Errorf("result_cache_size = %d, want %d", r.ResultCacheSize, config.DefaultResultCacheSize)
	}
	if r.Parallelism != 1 {
		t.Errorf("parallelism = %d, want 1", r.Parallelism)
	}
	if cfg.Catalogue.ConfusableThreshold != spell.DefaultConfusableThreshold {
		t.Errorf("confusable_threshold = %v", cfg.Catalogue.ConfusableThreshold)
	}
	if cfg.Telemetry.ServiceName != "spellcast" {
		t.Errorf("service_name = %q, want spellcast", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("catalogue:\n  path: x\nspeakers: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "catalogue.path is required") {
		t.Errorf("LoadFromReader(empty) error = %v, want catalogue.path is required", err)
	}
}

func TestLoad_ResolvesRelativeCataloguePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("catalogue:\n  path: spells/arena.yaml\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(dir, "spells", "arena.yaml"); cfg.Catalogue.Path != want {
		t.Errorf("catalogue.path = %q, want %q", cfg.Catalogue.Path, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level config.LogLevel
		valid bool
		want  slog.Level
	}{
		{config.LogDebug, true, slog.LevelDebug},
		{config.LogInfo, true, slog.LevelInfo},
		{config.LogWarn, true, slog.LevelWarn},
		{config.LogError, true, slog.LevelError},
		{"verbose", false, slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.IsValid(); got != tt.valid {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tt.level, got, tt.valid)
		}
		if got := tt.level.Level(); got != tt.want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", tt.level, got, tt.want)
		}
	}
}
