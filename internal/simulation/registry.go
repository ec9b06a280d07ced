package simulation

import (
	"fmt"
	"log/slog"
	"simtracker/internal/apperrors"
	"sort"
	"sync"
)

// Factory builds the payload for a new simulation from its resolved config.
type Factory func(cfg Config) (Payload, error)

type registryEntry struct {
	factory       Factory
	defaultConfig *Config
}

// Registry maps simulation keys to factories. Entries never change once registered.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a factory under key. Registering an existing key is logged and
// ignored; the return value reports whether the entry was added.
func (r *Registry) Register(key string, factory Factory, defaultConfig *Config) bool {
	logger := slog.With("component", "registry", "key", key)
	if key == "" || factory == nil {
		logger.Warn("Simulation registration rejected: key and factory are required")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; ok {
		logger.Warn("Simulation key already registered, ignoring")
		return false
	}
	entry := registryEntry{factory: factory}
	if defaultConfig != nil {
		cfg := defaultConfig.Clone()
		cfg.Key = key
		entry.defaultConfig = &cfg
	}
	r.entries[key] = entry
	logger.Debug("Simulation registered")
	return true
}

// Make creates an unstarted simulation for key. cfg overrides the registered
// default config; when both are absent the call fails.
func (r *Registry) Make(key string, cfg *Config) (*Simulation, error) {
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()

	logger := slog.With("component", "registry", "key", key)
	if !ok {
		logger.Warn("Unknown simulation key")
		return nil, apperrors.NotFound("simulation type", key)
	}

	var resolved Config
	switch {
	case cfg != nil:
		resolved = cfg.Clone()
	case entry.defaultConfig != nil:
		resolved = entry.defaultConfig.Clone()
	default:
		logger.Warn("No config given and no default registered")
		return nil, apperrors.Validation("config", fmt.Sprintf("no config provided for %q and no default registered", key))
	}
	resolved.Key = key
	if resolved.Name == "" && entry.defaultConfig != nil {
		resolved.Name = entry.defaultConfig.Name
	}
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	payload, err := entry.factory(resolved)
	if err != nil {
		logger.Warn("Simulation factory rejected config", "error", err)
		return nil, apperrors.Validation("kwargs", fmt.Sprintf("%s: %v", key, err))
	}
	return New(resolved, payload), nil
}

// DefaultConfig returns a copy of the default config registered for key.
func (r *Registry) DefaultConfig(key string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[key]
	if !ok || entry.defaultConfig == nil {
		return Config{}, false
	}
	return entry.defaultConfig.Clone(), true
}

// List returns every registered key in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
