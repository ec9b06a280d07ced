package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the environment variable value or a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetIntEnv returns an integer environment variable or a default.
// Unparseable values are logged and ignored.
func GetIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Ignoring invalid integer setting", "key", key, "value", value)
		return defaultValue
	}
	return parsed
}

// GetDurationEnv returns a duration environment variable ("250ms", "5s") or a default.
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Ignoring invalid duration setting", "key", key, "value", value)
		return defaultValue
	}
	return parsed
}

// GetBoolEnv returns a boolean environment variable (1/0, true/false, yes/no) or a default.
func GetBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return defaultValue
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		slog.Warn("Ignoring invalid boolean setting", "key", key, "value", value)
		return defaultValue
	}
}

// GetSecretFile reads a secret from a mounted file (Docker or K8s secrets).
// A missing path or unreadable file yields "".
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Could not read secret file", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
