package dispatcher

import (
	"simtracker/internal/config"
	"time"
)

// Delivery defaults that rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
	defaultDeliveryTimeout  = 30 * time.Second
)

// MemoryConfig configures the in-memory dispatcher. Zero values use defaults.
type MemoryConfig struct {
	BufferSize      int           // pending events (default: 1000)
	Workers         int           // delivery goroutines (default: 4)
	HTTPTimeout     time.Duration // per-request timeout (default: 10s)
	InitialBackoff  time.Duration // first retry delay (default: 100ms)
	MaxBackoff      time.Duration // retry delay cap (default: 5s)
	BreakerCooldown time.Duration // delay before requeueing for an open circuit (default: 30s)
}

// LoadConfigFromEnv reads WEBHOOK_* environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:  config.GetIntEnv("WEBHOOK_BUFFER_SIZE", 1000),
		Workers:     config.GetIntEnv("WEBHOOK_WORKERS", 4),
		HTTPTimeout: config.GetDurationEnv("WEBHOOK_HTTP_TIMEOUT", 10*time.Second),
	}
	return cfg.withDefaults()
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
	return c
}
