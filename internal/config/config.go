// Package config loads runtime settings for the bearer CLI.
//
// Values come from, in increasing priority: built-in defaults, a .env
// file, process environment variables (BEARER_*) and command-line flags.
// Flags are applied by the caller after Load.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBbolt  = "bbolt"
	BackendRedis  = "redis"
)

// Config holds every tunable of the CLI and the dev server.
type Config struct {
	APIBaseURL     string
	SessionName    string
	DataDir        string
	StoreBackend   string
	RedisAddr      string
	StoreSecret    string
	SessionTTL     time.Duration
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
	LogLevel       string
	LogFormat      string
	ListenAddr     string
	AccessTTL      time.Duration
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		APIBaseURL:     "http://localhost:8080",
		SessionName:    "default",
		DataDir:        defaultDataDir(),
		StoreBackend:   BackendBbolt,
		RedisAddr:      "localhost:6379",
		SessionTTL:     24 * time.Hour,
		RequestTimeout: 30 * time.Second,
		RefreshTimeout: 10 * time.Second,
		LogLevel:       "info",
		LogFormat:      "console",
		ListenAddr:     ":8080",
		AccessTTL:      5 * time.Minute,
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "bearer")
	}
	return ".bearer"
}

// Load reads envFile (when it exists) into the environment and builds a
// Config from defaults and BEARER_* variables. An empty envFile means
// ".env". Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	cfg := Default()
	cfg.APIBaseURL = getEnv("BEARER_API_URL", cfg.APIBaseURL)
	cfg.SessionName = getEnv("BEARER_SESSION", cfg.SessionName)
	cfg.DataDir = getEnv("BEARER_DATA_DIR", cfg.DataDir)
	cfg.StoreBackend = strings.ToLower(getEnv("BEARER_STORE", cfg.StoreBackend))
	cfg.RedisAddr = getEnv("BEARER_REDIS_ADDR", cfg.RedisAddr)
	cfg.StoreSecret = getEnv("BEARER_STORE_SECRET", cfg.StoreSecret)
	cfg.LogLevel = getEnv("BEARER_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("BEARER_LOG_FORMAT", cfg.LogFormat)
	cfg.ListenAddr = getEnv("BEARER_LISTEN_ADDR", cfg.ListenAddr)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BEARER_SESSION_TTL", &cfg.SessionTTL},
		{"BEARER_REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"BEARER_REFRESH_TIMEOUT", &cfg.RefreshTimeout},
		{"BEARER_ACCESS_TTL", &cfg.AccessTTL},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, *d.dst)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendBbolt, BackendRedis:
	default:
		return fmt.Errorf("store backend %q: must be one of memory, bbolt, redis", c.StoreBackend)
	}
	if c.APIBaseURL == "" {
		return errors.New("api url must not be empty")
	}
	if c.SessionName == "" {
		return errors.New("session name must not be empty")
	}
	if c.StoreBackend == BackendBbolt && c.DataDir == "" {
		return errors.New("data dir is required for the bbolt store")
	}
	if c.StoreBackend == BackendRedis && c.RedisAddr == "" {
		return errors.New("redis addr is required for the redis store")
	}
	if c.RequestTimeout <= 0 || c.RefreshTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.SessionTTL < 0 {
		return errors.New("session ttl must not be negative")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log format %q: must be console or json", c.LogFormat)
	}
	return nil
}

// StorePath is the bbolt database file.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// SecretPath is where a generated store secret is kept when none is
// configured.
func (c *Config) SecretPath() string {
	return filepath.Join(c.DataDir, "store.key")
}

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
