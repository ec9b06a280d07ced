package simulation

import (
	"fmt"
	"maps"
	"net/url"
	"simtracker/internal/apperrors"
	"strings"
)

// Validation limits
const (
	maxNameLength     = 128
	maxKeyLength      = 64
	maxParams         = 64
	maxCallbackEvents = 16
)

// Config describes one simulation to start.
type Config struct {
	Name     string         `json:"name" yaml:"name"`
	Key      string         `json:"sim_key" yaml:"sim_key"`
	Family   string         `json:"sim_family,omitempty" yaml:"sim_family,omitempty"`
	Type     string         `json:"sim_type,omitempty" yaml:"sim_type,omitempty"`
	Params   map[string]any `json:"kwargs,omitempty" yaml:"kwargs,omitempty"`
	Callback *Callback      `json:"callback,omitempty" yaml:"callback,omitempty"`
}

// Callback configures lifecycle webhooks for a simulation.
type Callback struct {
	URL    string   `json:"url" yaml:"url"`
	Events []string `json:"events,omitempty" yaml:"events,omitempty"`
	Key    string   `json:"key,omitempty" yaml:"key,omitempty"` // HMAC signing key
}

// Clone returns a copy whose Params and Callback may be modified independently.
func (c Config) Clone() Config {
	out := c
	if c.Params != nil {
		out.Params = maps.Clone(c.Params)
	}
	if c.Callback != nil {
		cb := *c.Callback
		cb.Events = append([]string(nil), c.Callback.Events...)
		out.Callback = &cb
	}
	return out
}

// Validate checks a config. Does not modify it.
func (c Config) Validate() error {
	if len(c.Name) > maxNameLength {
		return apperrors.Validation("name", fmt.Sprintf("name exceeds maximum length of %d", maxNameLength))
	}
	if len(c.Key) > maxKeyLength {
		return apperrors.Validation("sim_key", fmt.Sprintf("sim_key exceeds maximum length of %d", maxKeyLength))
	}
	if len(c.Params) > maxParams {
		return apperrors.Validation("kwargs", fmt.Sprintf("kwargs exceed maximum of %d entries", maxParams))
	}
	if c.Callback != nil {
		if err := validateURL(c.Callback.URL); err != nil {
			return apperrors.Validation("callback.url", fmt.Sprintf("invalid callback URL: %v", err))
		}
		if len(c.Callback.Events) > maxCallbackEvents {
			return apperrors.Validation("callback.events", fmt.Sprintf("callback events exceed maximum of %d", maxCallbackEvents))
		}
	}
	return nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// mergeParams overlays each layer onto base, later layers winning.
func mergeParams(base map[string]any, layers ...map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	maps.Copy(out, base)
	for _, layer := range layers {
		maps.Copy(out, layer)
	}
	return out
}
