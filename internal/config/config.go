package config

import (
	"time"
)

// Config represents the application configuration
type Config struct {
	API        APIConfig        `yaml:"api"`
	TokenStore TokenStoreConfig `yaml:"token_store"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// APIConfig describes the backend the client talks to
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout" default:"30s"`                        // Per HTTP exchange
	RefreshPath    string        `yaml:"refresh_path" default:"/auth/refresh"`         // Relative to base_url
	RotationHeader string        `yaml:"rotation_header" default:"X-New-Access-Token"` // Response header carrying a rotated access token
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`                              // 0 uses the client default (30s), negative disables
}

// TokenStore backends
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
)

// TokenStoreConfig selects where credentials are persisted
type TokenStoreConfig struct {
	Backend string      `yaml:"backend" default:"file"` // memory, file, sql, redis
	Session string      `yaml:"session"`                // Session key for sql/redis; defaults to the CLI context name
	SQL     SQLConfig   `yaml:"sql"`
	Redis   RedisConfig `yaml:"redis"`
}

// SQLConfig holds database settings for the sql backend
type SQLConfig struct {
	Driver string `yaml:"driver" default:"sqlite3"` // sqlite3 or postgres
	DSN    string `yaml:"dsn"`                      // File path for sqlite3, URL for postgres
}

// RedisConfig holds settings for the redis backend
type RedisConfig struct {
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix" default:"apiclient"`
	TTL      time.Duration `yaml:"ttl"` // 0 keeps keys until logout
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level" default:"warn"`  // debug, info, warn, error
	Format string `yaml:"format" default:"text"` // text or json
	File   string `yaml:"file"`                  // Empty logs to stderr
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" default:"true"` // Instrument outbound HTTP calls
}
