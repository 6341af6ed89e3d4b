// Package env reads configuration from environment variables with
// typed fallbacks and Docker-secret file indirection.
package env

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// GetStringFromFile resolves a secret-bearing variable. When KEY_FILE
// is set the value is read from that file (the Docker secrets
// convention), trimmed of trailing whitespace; otherwise it falls back
// to the plain KEY variable.
func GetStringFromFile(key, defaultValue string) string {
	if filePath := os.Getenv(key + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filepath.Clean(filePath))
		if err == nil {
			return string(bytes.TrimSpace(content))
		}
		// Unreadable file falls through to the plain variable.
	}
	return GetString(key, defaultValue)
}

// GetString returns the variable's value, or defaultValue when unset.
func GetString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetInt returns the variable parsed as an integer. Unset or
// unparseable values yield defaultValue.
func GetInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetDuration returns the variable parsed with time.ParseDuration
// ("5s", "1m30s"). Unset or unparseable values yield defaultValue.
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
