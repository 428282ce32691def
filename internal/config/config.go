// Package config provides configuration for widgetree.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds engine and CLI configuration.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string
	// SitePath is the optional YAML file with site placement rules.
	SitePath string
	// LogLevel is the minimum zerolog level name.
	LogLevel string
	// LogJSON emits JSON log lines instead of console output.
	LogJSON bool
	// Debug forces debug logging.
	Debug bool
	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	cfg := &Config{
		DBPath:      getEnv("WIDGETREE_DB", "widgetree.db"),
		SitePath:    getEnv("WIDGETREE_SITE", ""),
		LogLevel:    getEnv("WIDGETREE_LOG_LEVEL", "info"),
		LogJSON:     getEnvBool("WIDGETREE_LOG_JSON", false),
		Debug:       getEnvBool("WIDGETREE_DEBUG", false),
		BusyTimeout: getEnvDuration("WIDGETREE_BUSY_TIMEOUT", 5*time.Second),
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg
}

// FromArgs creates a Config from explicit values, with env fallbacks.
func FromArgs(dbPath, sitePath string) *Config {
	cfg := FromEnv()
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if sitePath != "" {
		cfg.SitePath = sitePath
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
