package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/spellcast/internal/config"
)

func base() *config.Config {
	cfg := &config.Config{Catalogue: config.CatalogueConfig{Path: "spells.yaml"}}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := base()
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("Diff(identical) = %+v, want empty", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := base(), base()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RecognizerChanged || d.CatalogueChanged {
		t.Errorf("unexpected diff %+v", d)
	}
}

func TestDiff_RecognizerChanged(t *testing.T) {
	t.Parallel()
	old, new := base(), base()
	new.Recognizer.Threshold = 0.8

	d := config.Diff(old, new)
	if !d.RecognizerChanged {
		t.Error("expected RecognizerChanged=true")
	}
	if d.CatalogueChanged {
		t.Error("expected CatalogueChanged=false")
	}
}

func TestDiff_CatalogueChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"path", func(c *config.Config) { c.Catalogue.Path = "other.yaml" }},
		{"archetype", func(c *config.Config) { c.Catalogue.Archetype = "mage" }},
		{"digest", func(c *config.Config) { c.Catalogue.Digest = "abc" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := base(), base()
			tt.mutate(new)
			if d := config.Diff(old, new); !d.CatalogueChanged {
				t.Errorf("Diff after %s change: CatalogueChanged=false", tt.name)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := base(), base()
	new.Server.ListenAddr = ":1234"
	new.Telemetry.ServiceName = "renamed"

	d := config.Diff(old, new)
	if !slices.Equal(d.RestartRequired, []string{"server.listen_addr", "telemetry"}) {
		t.Errorf("RestartRequired = %q", d.RestartRequired)
	}
	if d.Empty() {
		t.Error("Empty() = true for restart-only diff")
	}
}
