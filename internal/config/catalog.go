package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"simtracker/internal/simulation"

	"gopkg.in/yaml.v3"
)

// Catalog lists default configs for registered simulation types.
//
//	simulations:
//	  - sim_key: countdown
//	    name: Countdown
//	    kwargs:
//	      ticks: 20
type Catalog struct {
	Simulations []simulation.Config `yaml:"simulations"`
}

// LoadCatalog reads a catalogue file. Unknown fields are rejected so typos
// surface at startup instead of as silently ignored defaults.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalogue document.
func ParseCatalog(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Simulations))
	for i, cfg := range c.Simulations {
		if cfg.Key == "" {
			return nil, fmt.Errorf("catalog entry %d: sim_key is required", i)
		}
		if _, dup := seen[cfg.Key]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate sim_key %q", i, cfg.Key)
		}
		seen[cfg.Key] = struct{}{}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", cfg.Key, err)
		}
	}
	return &c, nil
}

// Defaults returns the catalogue configs keyed by sim_key.
func (c *Catalog) Defaults() map[string]simulation.Config {
	out := make(map[string]simulation.Config, len(c.Simulations))
	for _, cfg := range c.Simulations {
		out[cfg.Key] = cfg.Clone()
	}
	return out
}
