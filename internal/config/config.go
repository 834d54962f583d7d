// Package config loads and saves the client configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
)

const envPrefix = "SHELF"

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Logging LoggingConfig `mapstructure:"logging"`
	UI      UIConfig      `mapstructure:"ui"`
}

// ServerConfig holds media server configuration
type ServerConfig struct {
	URL       string `mapstructure:"url"`        // Server URL
	Token     string `mapstructure:"token"`      // API token from /login
	UserID    string `mapstructure:"user_id"`    // Scopes cached lists per user
	Username  string `mapstructure:"username"`   // Display only
	LibraryID string `mapstructure:"library_id"` // Default library for list commands
}

// StorageConfig selects the local database
type StorageConfig struct {
	Driver   string `mapstructure:"driver"` // "bolt" or "sqlite"
	CacheDir string `mapstructure:"cache_dir"`
}

// CacheConfig bounds the in-memory tier
type CacheConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	EntryTTL   time.Duration `mapstructure:"entry_ttl"` // Sliding, reset on every read
}

// SyncConfig controls list paging and staleness
type SyncConfig struct {
	PageSize int          `mapstructure:"page_size"`
	MaxAge   MaxAgeConfig `mapstructure:"max_age"`
}

// MaxAgeConfig is how long each kind of cached list stays fresh
type MaxAgeConfig struct {
	Items       time.Duration `mapstructure:"items"`
	Authors     time.Duration `mapstructure:"authors"`
	Series      time.Duration `mapstructure:"series"`
	Collections time.Duration `mapstructure:"collections"`
	Search      time.Duration `mapstructure:"search"`
	Progress    time.Duration `mapstructure:"progress"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// UIConfig holds terminal output configuration
type UIConfig struct {
	Color bool `mapstructure:"color"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:   DriverBolt,
			CacheDir: defaultCachePath(),
		},
		Cache: CacheConfig{
			MaxEntries: 500,
			EntryTTL:   10 * time.Minute,
		},
		Sync: SyncConfig{
			PageSize: 50,
			MaxAge: MaxAgeConfig{
				Items:       time.Hour,
				Authors:     6 * time.Hour,
				Series:      6 * time.Hour,
				Collections: time.Hour,
				Search:      15 * time.Minute,
				Progress:    time.Minute,
			},
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
		UI: UIConfig{
			Color: true,
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "shelf", "shelf.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "shelf", "shelf.log")
	}
}

// DefaultConfigDir returns the default config directory for the current OS
func DefaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "shelf")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "shelf")
	}
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "shelf", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "shelf", "cache")
	}
}

// keys returns every config key with its value in cfg, in the form written
// to disk. Durations are written as strings so the file stays readable.
func keys(cfg *Config) map[string]any {
	return map[string]any{
		"server.url":               cfg.Server.URL,
		"server.token":             cfg.Server.Token,
		"server.user_id":           cfg.Server.UserID,
		"server.username":          cfg.Server.Username,
		"server.library_id":        cfg.Server.LibraryID,
		"storage.driver":           cfg.Storage.Driver,
		"storage.cache_dir":        cfg.Storage.CacheDir,
		"cache.max_entries":        cfg.Cache.MaxEntries,
		"cache.entry_ttl":          cfg.Cache.EntryTTL.String(),
		"sync.page_size":           cfg.Sync.PageSize,
		"sync.max_age.items":       cfg.Sync.MaxAge.Items.String(),
		"sync.max_age.authors":     cfg.Sync.MaxAge.Authors.String(),
		"sync.max_age.series":      cfg.Sync.MaxAge.Series.String(),
		"sync.max_age.collections": cfg.Sync.MaxAge.Collections.String(),
		"sync.max_age.search":      cfg.Sync.MaxAge.Search.String(),
		"sync.max_age.progress":    cfg.Sync.MaxAge.Progress.String(),
		"logging.file":             cfg.Logging.File,
		"logging.level":            cfg.Logging.Level,
		"ui.color":                 cfg.UI.Color,
	}
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	// Environment variable overrides, e.g. SHELF_SERVER_URL
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range keys(DefaultConfig()) {
		v.SetDefault(k, val)
	}
	return v
}

// LoadConfig loads configuration from the default directory and environment
func LoadConfig() (*Config, error) {
	return LoadFrom(DefaultConfigDir())
}

// LoadFrom loads config.yaml from dir, applies environment overrides and
// validates the result. A missing file yields the defaults.
func LoadFrom(dir string) (*Config, error) {
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.Logging.File = expandHome(cfg.Logging.File)
	cfg.Storage.CacheDir = expandHome(cfg.Storage.CacheDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverBolt, DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q (want %q or %q)", c.Storage.Driver, DriverBolt, DriverSQLite)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.EntryTTL < 0 {
		return fmt.Errorf("cache.entry_ttl must not be negative")
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
	}
	return nil
}

// IsConfigured returns true if the server URL and token are set
func (c *Config) IsConfigured() bool {
	return c.Server.URL != "" && c.Server.Token != ""
}

// SaveConfig saves cfg to the default directory
func SaveConfig(cfg *Config) error {
	return SaveTo(cfg, DefaultConfigDir())
}

// SaveTo writes cfg as dir/config.yaml.
func SaveTo(cfg *Config, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	// Set fields individually to ensure correct key names (snake_case)
	for k, val := range keys(cfg) {
		v.Set(k, val)
	}

	configFile := filepath.Join(dir, "config.yaml")
	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveToken stores the credentials of a successful login
func SaveToken(cfg *Config, dir, token, userID, username string) error {
	cfg.Server.Token = token
	cfg.Server.UserID = userID
	cfg.Server.Username = username
	return SaveTo(cfg, dir)
}

// ClearServerConfig removes all server-related configuration (URL,
// credentials, default library) while preserving other settings
func ClearServerConfig(cfg *Config, dir string) error {
	cfg.Server = ServerConfig{}
	return SaveTo(cfg, dir)
}

// ClearCache removes all cached data
func ClearCache(cfg *Config) error {
	if cfg.Storage.CacheDir == "" {
		return nil
	}
	if err := os.RemoveAll(cfg.Storage.CacheDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
