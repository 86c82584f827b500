// Package db opens the SQLite database that holds the mirrored tables.
package db

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invoicehub/mirror/internal/utils"
	"github.com/jmoiron/sqlx"
)

const (
	memoryPath = ":memory:"

	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 4
	DefaultMaxIdleConns = 2
)

type config struct {
	path            string
	busyTimeout     time.Duration
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

// SqliteOption configures NewSqliteDB. Zero values keep the defaults.
type SqliteOption func(*config)

// WithPath sets the database file. ":memory:" (the default) keeps everything in memory.
func WithPath(path string) SqliteOption {
	return func(c *config) {
		if path != "" {
			c.path = path
		}
	}
}

// WithBusyTimeout is how long a writer waits on a locked database before failing.
func WithBusyTimeout(d time.Duration) SqliteOption {
	return func(c *config) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}

// WithMaxOpenConns bounds the pool. Sync workers write concurrently, so
// this caps how many of them hold a connection at once.
func WithMaxOpenConns(n int) SqliteOption {
	return func(c *config) {
		if n > 0 {
			c.maxOpenConns = n
		}
	}
}

func WithMaxIdleConns(n int) SqliteOption {
	return func(c *config) {
		if n > 0 {
			c.maxIdleConns = n
		}
	}
}

func WithConnMaxLifetime(d time.Duration) SqliteOption {
	return func(c *config) {
		if d > 0 {
			c.connMaxLifetime = d
		}
	}
}

// pragmas run on the first connection. journal_mode persists in the file;
// busy_timeout is repeated here for the in-memory handle, file handles get
// it on every connection through the DSN.
func (c *config) pragmas() string {
	var b strings.Builder
	if c.path != memoryPath {
		b.WriteString("PRAGMA journal_mode=WAL;\n")
	}
	fmt.Fprintf(&b, "PRAGMA busy_timeout=%d;\n", c.busyTimeout.Milliseconds())
	b.WriteString("PRAGMA temp_store=MEMORY;\n")
	b.WriteString("PRAGMA synchronous=NORMAL;\n")
	return b.String()
}

// NewSqliteDB opens a sqlx handle on a SQLite database.
func NewSqliteDB(opts ...SqliteOption) (*sqlx.DB, error) {
	cfg := &config{
		path:         memoryPath,
		busyTimeout:  DefaultBusyTimeout,
		maxOpenConns: DefaultMaxOpenConns,
		maxIdleConns: DefaultMaxIdleConns,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := memoryPath
	if cfg.path != memoryPath {
		if err := utils.EnsureParent(cfg.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc&%s", cfg.path, busyTimeoutParam(cfg.busyTimeout))
	} else {
		// every pooled connection would otherwise see its own empty database
		cfg.maxOpenConns = 1
		cfg.maxIdleConns = 1
	}

	slog.Debug("db", "driver", driverID, "path", cfg.path, "maxOpenConns", cfg.maxOpenConns, "busyTimeout", cfg.busyTimeout)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(min(cfg.maxIdleConns, cfg.maxOpenConns))
	if cfg.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.connMaxLifetime)
	}

	if _, err := db.Exec(cfg.pragmas()); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	return db, nil
}
