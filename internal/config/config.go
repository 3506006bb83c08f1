// Package config reads service configuration from the environment.
package config

import (
	"log/slog"
	"os"
)

type Config struct {
	Port      string
	DSN       string
	RedisURL  string
	IssuerURL string
	LogLevel  string
}

func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		DSN:       getEnv("DATABASE_DSN", "emoji-gram.db"),
		RedisURL:  getEnv("REDIS_URL", ""),
		IssuerURL: getEnv("ISSUER_URL", ""),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}
}

// SlogLevel maps the configured level name onto a slog level, defaulting to
// info on unknown values.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
