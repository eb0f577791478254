package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// DefaultConfigPaths defines the default locations to search for configuration files
var DefaultConfigPaths = []string{
	"./apiclient.yaml",
	"./apiclient.yml",
	"./configs/apiclient.yaml",
	"$HOME/.config/apiclient/config.yaml",
	"/etc/apiclient/config.yaml",
}

// Defaults returns the configuration used when no file sets a value
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			Timeout:        30 * time.Second,
			RefreshPath:    "/auth/refresh",
			RotationHeader: "X-New-Access-Token",
		},
		TokenStore: TokenStoreConfig{
			Backend: BackendFile,
			SQL: SQLConfig{
				Driver: "sqlite3",
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "apiclient",
			},
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load loads the configuration from the specified file or default locations
func Load(configPath string) (*Config, error) {
	config := Defaults()

	explicit := configPath != ""
	if !explicit {
		configPath = findConfigFile()
	}

	if configPath != "" && fileExists(configPath) {
		slog.Debug("loading config", slog.String("path", configPath))
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s not found", configPath)
	} else {
		slog.Debug("no config file found, using defaults")
	}

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// findConfigFile searches for a configuration file in default locations
func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		path = filepath.Clean(os.ExpandEnv(path))
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// validate performs basic validation on the configuration
func validate(config *Config) error {
	if config.API.BaseURL != "" {
		u, err := url.Parse(config.API.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", config.API.BaseURL)
		}
	}
	if config.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	if !strings.HasPrefix(config.API.RefreshPath, "/") {
		return fmt.Errorf("api.refresh_path must start with /")
	}
	if config.API.RotationHeader == "" {
		return fmt.Errorf("api.rotation_header is required")
	}

	switch config.TokenStore.Backend {
	case BackendMemory, BackendFile:
	case BackendSQL:
		if config.TokenStore.SQL.Driver != "sqlite3" && config.TokenStore.SQL.Driver != "postgres" {
			return fmt.Errorf("token_store.sql.driver must be sqlite3 or postgres")
		}
		if config.TokenStore.SQL.DSN == "" {
			return fmt.Errorf("token_store.sql.dsn is required for the sql backend")
		}
	case BackendRedis:
		if config.TokenStore.Redis.Addr == "" {
			return fmt.Errorf("token_store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("token_store.backend must be one of memory, file, sql, redis; got %q", config.TokenStore.Backend)
	}

	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json")
	}

	return nil
}
