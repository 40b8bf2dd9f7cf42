package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendHosted   = "hosted"
)

const (
	DefaultPageSize = 50
	SearchLimit     = 50
	SearchDebounce  = 300 * time.Millisecond
	envPrefix       = "THREADLINE"
	configDirName   = "threadline"
	configFileName  = "config.yaml"
)

// Config is the resolved client configuration.
type Config struct {
	Backend     string         `mapstructure:"backend"`
	UserID      string         `mapstructure:"user_id"`
	Username    string         `mapstructure:"username"`
	WorkspaceID string         `mapstructure:"workspace_id"`
	PageSize    int            `mapstructure:"page_size"`
	SQLite      SQLiteConfig   `mapstructure:"sqlite"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	Hosted      HostedConfig   `mapstructure:"hosted"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Log         LogConfig      `mapstructure:"log"`

	// Path is the file the config was read from, empty when none existed.
	Path string `mapstructure:"-"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// HostedConfig points at a hosted data platform.
type HostedConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Token  string `mapstructure:"token"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// StorageConfig selects the attachment bucket.
type StorageConfig struct {
	BucketURL     string `mapstructure:"bucket_url"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ConfigDir returns ~/.config/threadline.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", configDirName), nil
}

// DefaultConfigPath returns the config file used when --config is not given.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend", BackendSQLite)
	v.SetDefault("user_id", "")
	v.SetDefault("username", "")
	v.SetDefault("workspace_id", "")
	v.SetDefault("page_size", DefaultPageSize)
	v.SetDefault("sqlite.path", filepath.Join(dir, "threadline.db"))
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("hosted.url", "")
	v.SetDefault("hosted.api_key", "")
	v.SetDefault("hosted.token", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("storage.bucket_url", "file://"+filepath.ToSlash(filepath.Join(dir, "attachments")))
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("log.file", filepath.Join(dir, "threadline.log"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	return v
}

// LoadConfig reads the config at path (or the default location), layering
// THREADLINE_* environment variables and a .env file in the working directory.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	v := newViper(filepath.Dir(path))
	readFrom := ""
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		readFrom = path
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = readFrom
	return &cfg, nil
}

// WriteConfig persists cfg as YAML at path.
func WriteConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("backend", cfg.Backend)
	v.Set("user_id", cfg.UserID)
	v.Set("username", cfg.Username)
	v.Set("workspace_id", cfg.WorkspaceID)
	v.Set("page_size", cfg.PageSize)
	v.Set("sqlite.path", cfg.SQLite.Path)
	v.Set("postgres.dsn", cfg.Postgres.DSN)
	v.Set("hosted.url", cfg.Hosted.URL)
	v.Set("hosted.api_key", cfg.Hosted.APIKey)
	v.Set("hosted.token", cfg.Hosted.Token)
	v.Set("redis.url", cfg.Redis.URL)
	v.Set("storage.bucket_url", cfg.Storage.BucketURL)
	v.Set("storage.public_base_url", cfg.Storage.PublicBaseURL)
	v.Set("log.file", cfg.Log.File)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)
	v.Set("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.Set("log.max_backups", cfg.Log.MaxBackups)
	v.Set("log.max_age_days", cfg.Log.MaxAgeDays)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks the keys required by the selected backend.
func (c Config) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("config: user_id is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("config: page_size must be positive, got %d", c.PageSize)
	}
	switch c.Backend {
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("config: sqlite.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("config: postgres.dsn is required for the postgres backend")
		}
	case BackendHosted:
		if c.Hosted.URL == "" {
			return fmt.Errorf("config: hosted.url is required for the hosted backend")
		}
		if c.Hosted.Token == "" {
			return fmt.Errorf("config: hosted.token is required for the hosted backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	return nil
}
