package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	tmp := t.TempDir()
	return &Config{
		Remote: RemoteConfig{BaseURL: "https://app.example.com/api/1.1/", PageSize: 100},
		DB:     DBConfig{Path: filepath.Join(tmp, "mirror.db")},
		Sync:   SyncConfig{Concurrency: 5, Reconcilable: []string{"SubmittedPayment"}},
		Files:  FilesConfig{Backend: "local", Dir: filepath.Join(tmp, "files")},
	}
}

func TestValidate_Normalizes(t *testing.T) {
	cfg := validConfig(t)
	cfg.DB.Path = "./relative.db"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://app.example.com/api/1.1", cfg.Remote.BaseURL)
	assert.True(t, filepath.IsAbs(cfg.DB.Path))
	assert.Equal(t, []entity.Type{entity.SubmittedPayment}, cfg.ReconcilableTypes())
}

func TestValidate_KeepsMemoryDB(t *testing.T) {
	cfg := validConfig(t)
	cfg.DB.Path = ":memory:"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":memory:", cfg.DB.Path)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing url", func(c *Config) { c.Remote.BaseURL = "" }, "base_url is required"},
		{"bad url", func(c *Config) { c.Remote.BaseURL = "ftp://example.com" }, "invalid remote url"},
		{"page size", func(c *Config) { c.Remote.PageSize = 500 }, "page_size"},
		{"concurrency", func(c *Config) { c.Sync.Concurrency = 0 }, "concurrency"},
		{"reconcilable", func(c *Config) { c.Sync.Reconcilable = []string{"widgets"} }, "sync.reconcilable"},
		{"type names", func(c *Config) { c.Remote.TypeNames = map[string]string{"widgets": "Widget"} }, "type_names"},
		{"backend", func(c *Config) { c.Files.Backend = "ftp" }, "files.backend"},
		{"s3 bucket", func(c *Config) { c.Files.Backend = "s3" }, "bucket name"},
		{"db pool", func(c *Config) { c.DB.MaxOpenConns = -1 }, "db pool"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
remote:
  base_url: https://app.example.com/api/1.1
  page_size: 50
  timeout: 10s
  type_names:
    invoice: Invoices
db:
  path: `+filepath.Join(tmp, "m.db")+`
  max_open_conns: 8
files:
  dir: `+filepath.Join(tmp, "files")+`
`), 0o644))

	t.Setenv("MIRROR_REMOTE_TOKEN", "tok-123")
	t.Setenv("MIRROR_SYNC_CONCURRENCY", "9")
	t.Setenv("MIRROR_DB_BUSY_TIMEOUT", "2s")

	v := viper.New()
	require.NoError(t, ReadInConfig(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 50, cfg.Remote.PageSize)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "tok-123", cfg.Remote.Token)
	assert.Equal(t, 9, cfg.Sync.Concurrency)
	assert.Equal(t, 8, cfg.DB.MaxOpenConns)
	assert.Equal(t, 2, cfg.DB.MaxIdleConns)
	assert.Equal(t, 2*time.Second, cfg.DB.BusyTimeout)
	assert.Equal(t, map[entity.Type]string{entity.Invoice: "Invoices"}, cfg.TypeNames())
	assert.Equal(t, time.Hour, cfg.Progress.Retention)
	assert.Equal(t, "local", cfg.Files.Backend)
	assert.Equal(t, []entity.Type{entity.SubmittedPayment}, cfg.ReconcilableTypes())
}

func TestReadInConfig_MissingFileIsFine(t *testing.T) {
	t.Setenv("MIRROR_REMOTE_BASE_URL", "http://localhost:9999")

	v := viper.New()
	require.NoError(t, ReadInConfig(v, ""))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999", cfg.Remote.BaseURL)
	assert.Equal(t, 100, cfg.Remote.PageSize)
}

func TestReadInConfig_BrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	err := ReadInConfig(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config read")
}
