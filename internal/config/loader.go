package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// A relative catalogue.path is resolved against the directory of path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	resolveCataloguePath(cfg, path)
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Recognizer
	r := cfg.Recognizer
	if r.Language != "" && !r.Language.IsValid() {
		errs = append(errs, fmt.Errorf("recognizer.language %q is invalid; valid values: en, ru", r.Language))
	}
	if r.MaxMergeSpan != 0 && (r.MaxMergeSpan < 1 || r.MaxMergeSpan > MaxMergeSpanLimit) {
		errs = append(errs, fmt.Errorf("recognizer.max_merge_span %d is out of range [1, %d]", r.MaxMergeSpan, MaxMergeSpanLimit))
	}
	if r.MinTokenLength < 0 {
		errs = append(errs, fmt.Errorf("recognizer.min_token_length %d must not be negative", r.MinTokenLength))
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		errs = append(errs, fmt.Errorf("recognizer.threshold %.2f is out of range [0, 1]", r.Threshold))
	}
	if r.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("recognizer.parallelism %d must not be negative", r.Parallelism))
	}

	// Catalogue
	if cfg.Catalogue.Path == "" {
		errs = append(errs, errors.New("catalogue.path is required"))
	}
	if ct := cfg.Catalogue.ConfusableThreshold; ct < 0 || ct > 1 {
		errs = append(errs, fmt.Errorf("catalogue.confusable_threshold %.2f is out of range [0, 1]", ct))
	}

	// Telemetry
	if sr := cfg.Telemetry.SampleRatio; sr < 0 || sr > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %.2f is out of range [0, 1]", sr))
	}

	return errors.Join(errs...)
}

// resolveCataloguePath makes a relative catalogue path relative to the
// directory holding the config file.
func resolveCataloguePath(cfg *Config, configPath string) {
	p := cfg.Catalogue.Path
	if p == "" || filepath.IsAbs(p) {
		return
	}
	cfg.Catalogue.Path = filepath.Join(filepath.Dir(configPath), p)
}
