package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/progress"
	"golang.org/x/sync/errgroup"
)

// SyncAll mirrors every type in dependency order. Types run one after the
// other; a failing type does not stop the ones after it.
func (e *Engine) SyncAll(ctx context.Context) *SyncResult {
	start := time.Now()
	sid := e.session(ctx, "sync_all")
	result := &SyncResult{SessionID: sid, State: StateFetching}

	for _, t := range entity.SyncOrder {
		if ctx.Err() != nil {
			break
		}
		tr := e.syncType(ctx, sid, t)
		result.Types = append(result.Types, tr)
		result.Errors = append(result.Errors, tr.Errors...)
	}

	result.Duration = time.Since(start)
	result.State = e.finish(sid, ctx.Err())
	result.Success = result.State == StateCompleted
	slog.Info("sync all", "session", sid, "types", len(result.Types), "errors", len(result.Errors), "success", result.Success, "took", result.Duration)
	return result
}

// SyncEntityType mirrors one whole collection.
func (e *Engine) SyncEntityType(ctx context.Context, t entity.Type) *TypeResult {
	sid := e.session(ctx, "sync_"+string(t))
	tr := e.syncType(ctx, sid, t)
	e.finish(sid, ctx.Err())
	return tr
}

// finish closes the progress session of a run.
func (e *Engine) finish(sid string, cause error) State {
	if cause != nil {
		e.state(sid, StateError)
		e.progress.Fail(sid, cause)
		return StateError
	}
	e.state(sid, StateCompleted)
	e.progress.Complete(sid)
	return StateCompleted
}

func (e *Engine) syncType(ctx context.Context, sid string, t entity.Type) *TypeResult {
	start := time.Now()
	strategy := e.strategyFor(t, false)
	tr := &TypeResult{Type: t, Strategy: strategy.Name()}
	errs := &errorList{}
	defer func() {
		tr.Errors = errs.list()
		tr.Duration = time.Since(start)
		logSummary(tr)
	}()

	e.progress.Update(sid, progress.Patch{CurrentItem: string(t), Message: string(StateFetching)})
	col, err := e.remote.FetchAll(ctx, t, nil)
	if err != nil {
		errs.add(newError(KindFetch, t, "", err))
		return tr
	}
	tr.Partial = col.Partial
	if col.Err != nil {
		errs.add(newError(KindFetch, t, "", col.Err))
	}
	tr.Counts.Fetched = len(col.Records)

	e.state(sid, StateDeciding)
	batch := make([]*entity.Entity, 0, len(col.Records))
	for _, rec := range col.Records {
		ent, serr := e.mapRecord(t, rec)
		if serr != nil {
			errs.add(serr)
			tr.Counts.Failed++
			continue
		}
		batch = append(batch, ent)
	}
	tr.Schema = e.patchSchema(ctx, t, batch, errs)

	e.progress.Update(sid, progress.Patch{Total: len(batch), Message: string(StateSyncingRoot)})

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxConcurrency)
	for _, ent := range batch {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			out, serr := e.write(detach(ctx), ent, strategy)

			mu.Lock()
			defer mu.Unlock()
			if serr != nil {
				errs.add(serr)
				tr.Counts.Failed++
				e.progress.Update(sid, progress.Patch{Processed: 1, Errors: 1})
				return nil
			}
			tr.Counts.add(out)
			e.progress.Update(sid, progress.Patch{Processed: 1, CurrentItem: string(t) + "/" + ent.RemoteID})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		tr.Partial = true
	}
	return tr
}

func logSummary(tr *TypeResult) {
	slog.Info("sync type",
		"type", tr.Type,
		"strategy", tr.Strategy,
		"fetched", humanize.Comma(int64(tr.Counts.Fetched)),
		"inserted", humanize.Comma(int64(tr.Counts.Inserted)),
		"updated", humanize.Comma(int64(tr.Counts.Updated)),
		"merged", humanize.Comma(int64(tr.Counts.Merged)),
		"skipped", humanize.Comma(int64(tr.Counts.Skipped)),
		"failed", humanize.Comma(int64(tr.Counts.Failed)),
		"partial", tr.Partial,
		"took", tr.Duration,
	)
}
