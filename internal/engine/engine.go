// Package engine orchestrates mirroring remote records into the local
// store: fetching, staleness decisions, writes, relation packages and
// deletion reconciliation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/fallback"
	"github.com/invoicehub/mirror/internal/mapper"
	"github.com/invoicehub/mirror/internal/progress"
	"github.com/invoicehub/mirror/internal/remote"
	"github.com/invoicehub/mirror/internal/schema"
	"github.com/invoicehub/mirror/internal/store"
	"github.com/invoicehub/mirror/internal/upsert"
)

const DefaultMaxConcurrency = 5

// Remote is the subset of the record API client the engine uses.
type Remote interface {
	FetchAll(ctx context.Context, t entity.Type, constraints []remote.Constraint) (*remote.Collection, error)
	FetchByID(ctx context.Context, t entity.Type, id string) (remote.Record, error)
	FetchIDs(ctx context.Context, t entity.Type) (*remote.IDSet, error)
}

type Config struct {
	// MaxConcurrency bounds concurrent fetches and writes within one type.
	MaxConcurrency int
	// Reconcilable lists types whose remote absence means deletion.
	Reconcilable []entity.Type
}

// DefaultReconcilable is used when Config.Reconcilable is empty.
var DefaultReconcilable = []entity.Type{entity.SubmittedPayment}

type Engine struct {
	remote   Remote
	mapper   *mapper.Mapper
	store    *store.Store
	schema   *schema.Reflector
	fallback *fallback.Resolver
	progress *progress.Store
	cfg      Config
}

func New(r Remote, m *mapper.Mapper, st *store.Store, p *progress.Store, cfg Config) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if len(cfg.Reconcilable) == 0 {
		cfg.Reconcilable = DefaultReconcilable
	}
	return &Engine{
		remote:   r,
		mapper:   m,
		store:    st,
		schema:   st.Schema(),
		fallback: fallback.NewResolver(fallback.InvoiceTotal(st)),
		progress: p,
		cfg:      cfg,
	}
}

func (e *Engine) Progress() *progress.Store { return e.progress }

// IsReconcilable reports whether t is on the deletion allow-list.
func (e *Engine) IsReconcilable(t entity.Type) bool {
	return slices.Contains(e.cfg.Reconcilable, t)
}

// session returns the progress session attached to ctx or starts one.
func (e *Engine) session(ctx context.Context, category string) string {
	if id, ok := progress.SessionFrom(ctx); ok {
		e.progress.Update(id, progress.Patch{Category: category})
		return id
	}
	return e.progress.Create(category)
}

func (e *Engine) state(sid string, s State) {
	e.progress.Update(sid, progress.Patch{Message: string(s)})
}

// strategyFor picks the merge discipline for t.
func (e *Engine) strategyFor(t entity.Type, checkStaleness bool) upsert.Strategy {
	return upsert.ForType(t, checkStaleness, e.store)
}

// detach lets a remote call or write that has already been launched run to
// completion after the run is cancelled. Remote calls stay bounded by the
// client request timeout.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// mapRecord maps one record, tagging failures.
func (e *Engine) mapRecord(t entity.Type, rec remote.Record) (*entity.Entity, *SyncError) {
	ent, err := e.mapper.Map(t, rec)
	if err != nil {
		return nil, newError(KindMapping, t, rec.ID(), err)
	}
	return ent, nil
}

// patchSchema reflects the batch. Failures are reported and never block
// the writes that follow.
func (e *Engine) patchSchema(ctx context.Context, t entity.Type, batch []*entity.Entity, errs *errorList) *schema.PatchResult {
	if len(batch) == 0 {
		return nil
	}
	res, err := e.schema.PatchSchema(ctx, t, batch)
	if err != nil {
		slog.Warn("schema patch", "type", t, "error", err)
		errs.add(newError(KindSchema, t, "", err))
		return nil
	}
	for _, col := range res.Failed() {
		errs.add(newError(KindSchema, t, "", fmt.Errorf("add column %s: %s", col, res.Errors[col])))
	}
	return res
}

// write resolves fallbacks and applies the strategy to one entity.
func (e *Engine) write(ctx context.Context, ent *entity.Entity, strategy upsert.Strategy) (upsert.Outcome, *SyncError) {
	if e.fallback.Has(ent.Type) {
		previous, err := e.store.Get(ctx, ent.Type, ent.RemoteID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return upsert.Outcome{}, newError(KindWrite, ent.Type, ent.RemoteID, err)
		}
		e.fallback.Apply(ctx, ent, previous)
	}

	out, err := strategy.Apply(ctx, ent)
	if err != nil {
		return upsert.Outcome{}, newError(KindWrite, ent.Type, ent.RemoteID, err)
	}
	return out, nil
}

// fetchOne reads one record by id and maps it. A missing record is
// reported with KindNotFound, which callers count as a skip.
func (e *Engine) fetchOne(ctx context.Context, t entity.Type, id string) (*entity.Entity, *SyncError) {
	rec, err := e.remote.FetchByID(ctx, t, id)
	if errors.Is(err, remote.ErrNotFound) {
		slog.Debug("remote record not found", "type", t, "id", id)
		return nil, newError(KindNotFound, t, id, err)
	}
	if err != nil {
		return nil, newError(KindFetch, t, id, err)
	}
	return e.mapRecord(t, rec)
}
