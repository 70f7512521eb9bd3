// Package config loads the server configuration.
//
// LAYERING (later layers win):
//  1. Defaults: defaultConfig()
//  2. Config file: optional YAML, from --config or CONFIG_PATH
//  3. Environment variables: an explicit allow-list, see envMappings
//
// A .env file in the working directory is loaded into the process
// environment first, so local development needs no exported variables.
// Variables already set in the environment are never overwritten by it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/sakif/movie-watchlist/internal/logging"
)

// ConfigPathEnvVar names the YAML file when --config is not given.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	TMDB     TMDBConfig     `koanf:"tmdb"`
	Log      logging.Config `koanf:"log"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	StaticDir       string        `koanf:"static_dir"` // optional prebuilt SPA
	CORSOrigins     []string      `koanf:"cors_origins"`
	AuthRateLimit   int           `koanf:"auth_rate_limit"` // requests per minute per IP on /api/auth/*
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path              string        `koanf:"path"`
	ConnectAttempts   int           `koanf:"connect_attempts"`
	ConnectRetryDelay time.Duration `koanf:"connect_retry_delay"`
}

type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	TokenTTL   time.Duration `koanf:"token_ttl"`
	Issuer     string        `koanf:"issuer"`
	BcryptCost int           `koanf:"bcrypt_cost"`
}

type TMDBConfig struct {
	APIKey            string        `koanf:"api_key"`
	ReadToken         string        `koanf:"read_token"`
	BaseURL           string        `koanf:"base_url"`
	Language          string        `koanf:"language"`
	Timeout           time.Duration `koanf:"timeout"`
	MaxAttempts       int           `koanf:"max_attempts"`
	RetryBaseDelay    time.Duration `koanf:"retry_base_delay"`
	MaxRetryWait      time.Duration `koanf:"max_retry_wait"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	CacheSize         int           `koanf:"cache_size"`
	CacheTTL          time.Duration `koanf:"cache_ttl"`
	BreakerFailures   int           `koanf:"breaker_failures"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            5000,
			CORSOrigins:     []string{"http://localhost:3000"},
			AuthRateLimit:   20,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:              "watchlist.db",
			ConnectAttempts:   5,
			ConnectRetryDelay: 500 * time.Millisecond,
		},
		Auth: AuthConfig{
			TokenTTL:   time.Hour,
			Issuer:     "movie-watchlist",
			BcryptCost: 12,
		},
		TMDB: TMDBConfig{
			BaseURL:           "https://api.themoviedb.org/3",
			Language:          "en-US",
			Timeout:           5 * time.Second,
			MaxAttempts:       3,
			RetryBaseDelay:    500 * time.Millisecond,
			MaxRetryWait:      5 * time.Second,
			RequestsPerSecond: 40,
			Burst:             10,
			CacheSize:         512,
			CacheTTL:          5 * time.Minute,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		Log: logging.Config{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration from all layers and validates it.
// path may be empty, in which case CONFIG_PATH is consulted.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	if err := splitCommaList(k, "server.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envMappings is the allow-list of environment variables. Anything not
// listed is ignored, so unrelated variables cannot leak into the config.
var envMappings = map[string]string{
	"port":                "server.port",
	"static_dir":          "server.static_dir",
	"cors_origins":        "server.cors_origins",
	"auth_rate_limit":     "server.auth_rate_limit",
	"db_path":             "database.path",
	"db_connect_attempts": "database.connect_attempts",
	"jwt_secret":          "auth.jwt_secret",
	"jwt_ttl":             "auth.token_ttl",
	"bcrypt_cost":         "auth.bcrypt_cost",
	"tmdb_api_key":        "tmdb.api_key",
	"tmdb_read_token":     "tmdb.read_token",
	"tmdb_base_url":       "tmdb.base_url",
	"tmdb_timeout":        "tmdb.timeout",
	"log_level":           "log.level",
	"log_format":          "log.format",
	"log_file":            "log.file",
}

// envTransformFunc maps JWT_SECRET to auth.jwt_secret. An empty result
// tells koanf to skip the variable.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// splitCommaList turns "a, b" from the environment into []string{"a", "b"}.
// Lists from YAML are already slices and are left alone.
func splitCommaList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if err := k.Set(path, parts); err != nil {
		return fmt.Errorf("config: setting %s: %w", path, err)
	}
	return nil
}

// RetryBudget is the longest one catalog call can take: every attempt runs
// to its timeout and every retry waits the full max_retry_wait.
func (t TMDBConfig) RetryBudget() time.Duration {
	attempts := time.Duration(t.MaxAttempts)
	return attempts*t.Timeout + (attempts-1)*t.MaxRetryWait
}

// Validate reports every setting the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port must be between 1 and 65535, got %d", c.Server.Port)
	check(c.Server.AuthRateLimit >= 0, "server.auth_rate_limit must not be negative")
	check(c.Server.ShutdownTimeout > 0, "server.shutdown_timeout must be positive")

	check(c.Database.Path != "", "database.path is required (DB_PATH)")
	check(c.Database.ConnectAttempts >= 1, "database.connect_attempts must be at least 1")

	check(len(c.Auth.JWTSecret) >= 16, "auth.jwt_secret must be at least 16 bytes (JWT_SECRET)")
	check(c.Auth.TokenTTL > 0, "auth.token_ttl must be positive")
	check(c.Auth.BcryptCost >= 10 && c.Auth.BcryptCost <= 31, "auth.bcrypt_cost must be between 10 and 31, got %d", c.Auth.BcryptCost)

	check(c.TMDB.APIKey != "" || c.TMDB.ReadToken != "", "tmdb.api_key or tmdb.read_token is required (TMDB_API_KEY)")
	check(c.TMDB.Timeout > 0, "tmdb.timeout must be positive")
	check(c.TMDB.MaxAttempts >= 1, "tmdb.max_attempts must be at least 1")
	check(c.TMDB.MaxRetryWait > 0, "tmdb.max_retry_wait must be positive")
	check(c.TMDB.BreakerFailures >= 1, "tmdb.breaker_failures must be at least 1")

	// A catalog call must finish before the server gives up on the response.
	// Zero write_timeout means no limit.
	if c.Server.WriteTimeout > 0 && c.TMDB.Timeout > 0 && c.TMDB.MaxAttempts >= 1 {
		budget := c.TMDB.RetryBudget()
		check(budget <= c.Server.WriteTimeout,
			"tmdb retry budget %s (max_attempts x timeout + (max_attempts-1) x max_retry_wait) exceeds server.write_timeout %s",
			budget, c.Server.WriteTimeout)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
