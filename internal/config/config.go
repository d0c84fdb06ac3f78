package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultFile is the KEY=VALUE file read by Load when no path is given.
const DefaultFile = "config/app.env"

// Storage backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Shortener ShortenerConfig
	Storage   StorageConfig
	App       AppConfig
}

// ShortenerConfig holds link lifecycle settings.
type ShortenerConfig struct {
	TTL              time.Duration `envconfig:"SHORTENER_TTL" default:"24h"`
	DefaultMaxClicks int           `envconfig:"SHORTENER_DEFAULT_MAX_CLICKS" default:"10"`
	BaseURL          string        `envconfig:"SHORTENER_BASE_URL" default:"http://localhost/"`
	// CleanupInterval may be zero or negative; the sweeper raises it to its minimum.
	CleanupInterval time.Duration `envconfig:"SHORTENER_CLEANUP_INTERVAL" default:"30s"`
}

// Validate validates the shortener configuration.
func (c *ShortenerConfig) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if c.DefaultMaxClicks <= 0 {
		return fmt.Errorf("default max clicks must be positive")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Backend    string `envconfig:"STORAGE_BACKEND" default:"file"` // file, memory, sqlite
	File       string `envconfig:"STORAGE_FILE" default:"data/links.json"`
	SQLitePath string `envconfig:"STORAGE_SQLITE_PATH" default:"data/links.db"`
	UserIDFile string `envconfig:"STORAGE_USER_ID_FILE" default:"data/user.uuid"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case BackendFile:
		if c.File == "" {
			return fmt.Errorf("storage file cannot be empty for the file backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path cannot be empty for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid storage backend: %s (must be one of: file, memory, sqlite)", c.Backend)
	}
	return nil
}

// AppConfig holds application-wide settings.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"` // development, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`      // debug, info, warn, error
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// IsProduction reports whether the app runs in production.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads the KEY=VALUE file at path into the environment, without
// overriding variables that are already set, then decodes and validates every
// section. A missing file is fine; a malformed one is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}

	if err := envconfig.Process("", &cfg.Shortener); err != nil {
		return nil, fmt.Errorf("failed to load Shortener config: %w", err)
	}
	if err := cfg.Shortener.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Shortener config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Storage); err != nil {
		return nil, fmt.Errorf("failed to load Storage config: %w", err)
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Storage config: %w", err)
	}

	if err := envconfig.Process("", &cfg.App); err != nil {
		return nil, fmt.Errorf("failed to load App config: %w", err)
	}
	if err := cfg.App.Validate(); err != nil {
		return nil, fmt.Errorf("invalid App config: %w", err)
	}

	return cfg, nil
}
