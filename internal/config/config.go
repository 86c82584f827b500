// Package config loads the mirror configuration from a config file, flags
// and MIRROR_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/files"
	"github.com/invoicehub/mirror/internal/utils"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "MIRROR"
	configFileName = "config"
	memoryDB       = ":memory:"
)

var (
	home, _           = os.UserHomeDir()
	DefaultHomeDir    = filepath.Join(home, ".mirror")
	DefaultDBPath     = filepath.Join(DefaultHomeDir, "mirror.db")
	DefaultLogPath    = filepath.Join(DefaultHomeDir, "logs", "mirror.log")
	DefaultFilesDir   = filepath.Join(DefaultHomeDir, "files")
	DefaultCPAddr     = "localhost:7940"
	ErrNoRemoteURL    = errors.New("config: remote.base_url is required")
	ErrInvalidBackend = errors.New("config: files.backend must be one of local, s3")
)

type Config struct {
	Path         string             `mapstructure:"-"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	DB           DBConfig           `mapstructure:"db"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	Files        FilesConfig        `mapstructure:"files"`
	ControlPlane ControlPlaneConfig `mapstructure:"control_plane"`
	Log          LogConfig          `mapstructure:"log"`
}

type RemoteConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Token    string        `mapstructure:"token"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// TypeNames maps an entity type to its remote collection name.
	TypeNames map[string]string `mapstructure:"type_names"`
}

type DBConfig struct {
	Path            string        `mapstructure:"path"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type SyncConfig struct {
	Concurrency  int      `mapstructure:"concurrency"`
	Reconcilable []string `mapstructure:"reconcilable"`
}

type ProgressConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	Capacity  int           `mapstructure:"capacity"`
}

type FilesConfig struct {
	Backend     string         `mapstructure:"backend"`
	Dir         string         `mapstructure:"dir"`
	Concurrency int            `mapstructure:"concurrency"`
	S3          files.S3Config `mapstructure:"s3"`
}

type ControlPlaneConfig struct {
	Addr      string `mapstructure:"addr"`
	Token     string `mapstructure:"token"`
	RateLimit int64  `mapstructure:"rate_limit"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// SetDefaults registers every key so environment variables bind even when
// no config file sets them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.page_size", 100)
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.type_names", map[string]string{})
	v.SetDefault("db.path", DefaultDBPath)
	v.SetDefault("db.busy_timeout", 5*time.Second)
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("db.conn_max_lifetime", time.Duration(0))
	v.SetDefault("sync.concurrency", 5)
	v.SetDefault("sync.reconcilable", []string{string(entity.SubmittedPayment)})
	v.SetDefault("progress.retention", time.Hour)
	v.SetDefault("progress.capacity", 256)
	v.SetDefault("files.backend", "local")
	v.SetDefault("files.dir", DefaultFilesDir)
	v.SetDefault("files.concurrency", 4)
	v.SetDefault("files.s3.bucket_name", "")
	v.SetDefault("files.s3.region", "")
	v.SetDefault("files.s3.endpoint", "")
	v.SetDefault("files.s3.access_key", "")
	v.SetDefault("files.s3.secret_key", "")
	v.SetDefault("files.s3.prefix", "")
	v.SetDefault("control_plane.addr", DefaultCPAddr)
	v.SetDefault("control_plane.token", "")
	v.SetDefault("control_plane.rate_limit", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", DefaultLogPath)
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 5)
}

// ReadInConfig points v at path, or at config.{json,yaml} under the
// mirror home directory and the working directory, and enables env
// overrides. A missing config file is not an error.
func ReadInConfig(v *viper.Viper, path string) error {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(DefaultHomeDir)
		v.AddConfigPath(".")
		v.SetConfigName(configFileName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}
	return nil
}

// Load decodes v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes paths and rejects unusable values.
func (c *Config) Validate() error {
	var err error

	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	if c.Remote.BaseURL == "" {
		return ErrNoRemoteURL
	}
	if !utils.IsValidURL(c.Remote.BaseURL) {
		return fmt.Errorf("config: invalid remote url %q", utils.MaskURL(c.Remote.BaseURL))
	}
	if c.Remote.PageSize < 1 || c.Remote.PageSize > 100 {
		return fmt.Errorf("config: remote.page_size must be within 1..100, got %d", c.Remote.PageSize)
	}
	for name := range c.Remote.TypeNames {
		if _, err := entity.ParseType(name); err != nil {
			return fmt.Errorf("config: remote.type_names: %w", err)
		}
	}

	if c.DB.Path == "" {
		return errors.New("config: db.path is required")
	}
	if c.DB.Path != memoryDB {
		if c.DB.Path, err = utils.ResolvePath(c.DB.Path); err != nil {
			return fmt.Errorf("config: db.path: %w", err)
		}
	}
	if c.DB.MaxOpenConns < 0 || c.DB.MaxIdleConns < 0 || c.DB.BusyTimeout < 0 || c.DB.ConnMaxLifetime < 0 {
		return errors.New("config: db pool settings must not be negative")
	}

	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("config: sync.concurrency must be positive, got %d", c.Sync.Concurrency)
	}
	for _, name := range c.Sync.Reconcilable {
		if _, err := entity.ParseType(name); err != nil {
			return fmt.Errorf("config: sync.reconcilable: %w", err)
		}
	}

	switch c.Files.Backend {
	case "local":
		if c.Files.Dir, err = utils.ResolvePath(c.Files.Dir); err != nil {
			return fmt.Errorf("config: files.dir: %w", err)
		}
	case "s3":
		if err := c.Files.S3.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidBackend, c.Files.Backend)
	}

	if c.Log.File != "" {
		if c.Log.File, err = utils.ResolvePath(c.Log.File); err != nil {
			return fmt.Errorf("config: log.file: %w", err)
		}
	}

	return nil
}

// ReconcilableTypes is the parsed deletion allow-list.
func (c *Config) ReconcilableTypes() []entity.Type {
	types := make([]entity.Type, 0, len(c.Sync.Reconcilable))
	for _, name := range c.Sync.Reconcilable {
		if t, err := entity.ParseType(name); err == nil {
			types = append(types, t)
		}
	}
	return types
}

// TypeNames is the parsed remote collection name override table.
func (c *Config) TypeNames() map[entity.Type]string {
	names := make(map[entity.Type]string, len(c.Remote.TypeNames))
	for name, remoteName := range c.Remote.TypeNames {
		if t, err := entity.ParseType(name); err == nil {
			names[t] = remoteName
		}
	}
	return names
}
