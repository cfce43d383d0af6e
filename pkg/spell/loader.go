package spell

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads, parses and validates a catalogue YAML file from disk.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spell: open catalogue %q: %w", path, err)
	}
	defer f.Close()

	cf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("spell: parse catalogue %q: %w", path, err)
	}
	return cf, nil
}

// LoadFromReader parses catalogue YAML from r and validates it with
// [ValidateFile]. Unknown keys are rejected to catch typos.
func LoadFromReader(r io.Reader) (*File, error) {
	var cf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("spell: decode catalogue yaml: %w", err)
	}
	if err := ValidateFile(&cf); err != nil {
		return nil, err
	}
	return &cf, nil
}
