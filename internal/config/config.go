// Package config provides the configuration schema and loader for the
// spellcast recognition server.
package config

import (
	"log/slog"

	"github.com/MrWong99/spellcast/pkg/spell"
)

// LogLevel controls log verbosity for the spellcast server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the corresponding [slog.Level]. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr      = ":8090"
	DefaultLanguage        = spell.English
	DefaultMaxMergeSpan    = 3
	DefaultMinTokenLength  = 1
	DefaultThreshold       = 0.6
	DefaultResultCacheSize = 256
	DefaultParallelism     = 1
	DefaultServiceName     = "spellcast"

	// MaxMergeSpanLimit bounds max_merge_span; longer merges only add DP cost.
	MaxMergeSpanLimit = 6
)

// Config is the root configuration structure for spellcast.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Catalogue  CatalogueConfig  `yaml:"catalogue"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the spellcast server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// RecognizerConfig tunes the per-session spell recognizers.
type RecognizerConfig struct {
	// Language is the default language sessions bind to.
	Language spell.Language `yaml:"language"`

	// MaxMergeSpan is how many adjacent heard tokens may merge into one
	// phrase token. Range 1..6.
	MaxMergeSpan int `yaml:"max_merge_span"`

	// MinTokenLength drops shorter letterless heard tokens.
	MinTokenLength int `yaml:"min_token_length"`

	// Threshold is the similarity at or above which a recognition counts as
	// a cast. Range [0, 1]; 0 selects the default.
	Threshold float64 `yaml:"threshold"`

	// ResultCacheSize bounds the per-session result cache. 0 selects the
	// default; a negative value disables the cache.
	ResultCacheSize int `yaml:"result_cache_size"`

	// Parallelism is the number of goroutines used to score candidates.
	Parallelism int `yaml:"parallelism"`

	// WarmAllLanguages prewarms phrases of every language, not only the
	// active one.
	WarmAllLanguages bool `yaml:"warm_all_languages"`
}

// CatalogueConfig locates the spell catalogue file.
type CatalogueConfig struct {
	// Path is the spell catalogue YAML file. Relative paths are resolved
	// against the directory of the config file by [Load].
	Path string `yaml:"path"`

	// Archetype is the loadout used when a request names none. Empty binds
	// the full catalogue.
	Archetype string `yaml:"archetype"`

	// ConfusableThreshold is the Jaro-Winkler score at which near-identical
	// trigger phrases are reported at load time. 0 selects the default.
	ConfusableThreshold float64 `yaml:"confusable_threshold"`

	// Digest is the SHA-256 of the catalogue file content as seen by the
	// [Watcher]. It lets [Diff] notice catalogue edits that leave the config
	// file untouched.
	Digest string `yaml:"-"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Default: "spellcast".
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is reported as service.version.
	ServiceVersion string `yaml:"service_version"`

	// SampleRatio is the fraction of root traces sampled. Range [0, 1];
	// 0 samples every trace.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	r := &cfg.Recognizer
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if r.MaxMergeSpan == 0 {
		r.MaxMergeSpan = DefaultMaxMergeSpan
	}
	if r.MinTokenLength == 0 {
		r.MinTokenLength = DefaultMinTokenLength
	}
	if r.Threshold == 0 {
		r.Threshold = DefaultThreshold
	}
	if r.ResultCacheSize == 0 {
		r.ResultCacheSize = DefaultResultCacheSize
	}
	if r.Parallelism == 0 {
		r.Parallelism = DefaultParallelism
	}
	if cfg.Catalogue.ConfusableThreshold == 0 {
		cfg.Catalogue.ConfusableThreshold = spell.DefaultConfusableThreshold
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
