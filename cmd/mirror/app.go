package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/dustin/go-humanize"
	"github.com/invoicehub/mirror/internal/config"
	"github.com/invoicehub/mirror/internal/db"
	"github.com/invoicehub/mirror/internal/engine"
	"github.com/invoicehub/mirror/internal/files"
	"github.com/invoicehub/mirror/internal/mapper"
	"github.com/invoicehub/mirror/internal/progress"
	"github.com/invoicehub/mirror/internal/remote"
	"github.com/invoicehub/mirror/internal/schema"
	"github.com/invoicehub/mirror/internal/store"
	"github.com/invoicehub/mirror/internal/utils"
	"github.com/jmoiron/sqlx"
)

// app is the wired dependency graph behind every command.
type app struct {
	cfg      *config.Config
	db       *sqlx.DB
	store    *store.Store
	remote   *remote.Client
	progress *progress.Store
	engine   *engine.Engine
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	m, err := mapper.Default()
	if err != nil {
		return nil, err
	}

	typeNames := m.RemoteNames()
	maps.Copy(typeNames, cfg.TypeNames())

	client, err := remote.New(remote.Config{
		BaseURL:   cfg.Remote.BaseURL,
		Token:     cfg.Remote.Token,
		PageSize:  cfg.Remote.PageSize,
		Timeout:   cfg.Remote.Timeout,
		TypeNames: typeNames,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.Open(ctx,
		db.WithPath(cfg.DB.Path),
		db.WithBusyTimeout(cfg.DB.BusyTimeout),
		db.WithMaxOpenConns(cfg.DB.MaxOpenConns),
		db.WithMaxIdleConns(cfg.DB.MaxIdleConns),
		db.WithConnMaxLifetime(cfg.DB.ConnMaxLifetime),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DB.Path, err)
	}

	st := store.New(sqlDB, schema.NewReflector(sqlDB))
	p := progress.NewStore(cfg.Progress.Retention, cfg.Progress.Capacity)
	eng := engine.New(client, m, st, p, engine.Config{
		MaxConcurrency: cfg.Sync.Concurrency,
		Reconcilable:   cfg.ReconcilableTypes(),
	})

	slog.Info("mirror ready", "remote", utils.MaskURL(cfg.Remote.BaseURL), "db", cfg.DB.Path)
	return &app{
		cfg:      cfg,
		db:       sqlDB,
		store:    st,
		remote:   client,
		progress: p,
		engine:   eng,
	}, nil
}

// fileSyncer builds the configured storage backend.
func (a *app) fileSyncer(ctx context.Context) (*files.Syncer, error) {
	var backend files.Backend
	switch a.cfg.Files.Backend {
	case "s3":
		s3b, err := files.NewS3BackendWithConfig(ctx, &a.cfg.Files.S3)
		if err != nil {
			return nil, err
		}
		backend = s3b
	default:
		local, err := files.NewLocalBackend(a.cfg.Files.Dir)
		if err != nil {
			return nil, err
		}
		backend = local
	}
	return files.NewSyncer(a.store, backend, a.progress, a.cfg.Files.Concurrency), nil
}

func (a *app) Close() error {
	stats := a.remote.Stats()
	slog.Debug("remote stats", "requests", stats.Requests, "failures", stats.Failures, "received", humanize.Bytes(uint64(stats.BytesRecvTotal)))
	return a.db.Close()
}
