// Package config loads service settings from the environment and simulation
// defaults from a YAML catalogue.
package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// ServiceConfig holds settings for the simtracker service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // time for load balancers to drain before stopping (0 to skip)
	ProjectDir        string        // holds simtracker.db and per-simulation storage
	QueryPollInterval time.Duration
	StopTimeout       time.Duration // how long clear/delete wait for a stop acknowledgement
	CatalogFile       string        // optional YAML catalogue of simulation defaults
	DockerEnabled     bool          // register the container simulation type
	LogLevel          slog.Level
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		ProjectDir:        GetEnv("PROJECT_DIR", "./simtracker-data"),
		QueryPollInterval: GetDurationEnv("QUERY_POLL_INTERVAL", 50*time.Millisecond),
		StopTimeout:       GetDurationEnv("STOP_TIMEOUT", 5*time.Second),
		CatalogFile:       GetEnv("CATALOG_FILE", ""),
		DockerEnabled:     GetBoolEnv("DOCKER_ENABLED", false),
		LogLevel:          ParseLogLevel(GetEnv("LOG_LEVEL", "info")),
	}
}

// DatabasePath is the sqlite file holding simulation records.
func (c *ServiceConfig) DatabasePath() string {
	return filepath.Join(c.ProjectDir, "simtracker.db")
}

// StorageRoot is the parent of the per-simulation storage directories.
func (c *ServiceConfig) StorageRoot() string {
	return filepath.Join(c.ProjectDir, "simulations")
}

// ParseLogLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
