package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/progress"
	"github.com/invoicehub/mirror/internal/upsert"
	"golang.org/x/sync/errgroup"
)

// SyncByIDs fetches only the candidates that are missing locally or whose
// remote modification time is strictly newer than the local row. It never
// reads whole collections.
func (e *Engine) SyncByIDs(ctx context.Context, candidates []Candidate) *IDSyncResult {
	sid := e.session(ctx, "sync_ids")
	res := &IDSyncResult{SessionID: sid}
	errs := &errorList{}

	byType := map[entity.Type][]Candidate{}
	seen := map[Candidate]bool{}
	for _, c := range candidates {
		c.RemoteModifiedAt = c.RemoteModifiedAt.UTC()
		if !c.Type.Valid() || c.ID == "" {
			errs.add(newError(KindValidation, c.Type, c.ID, fmt.Errorf("invalid candidate")))
			continue
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		byType[c.Type] = append(byType[c.Type], c)
	}

	var todo []Candidate
	for t, group := range byType {
		ids := make([]string, len(group))
		for i, c := range group {
			ids[i] = c.ID
		}
		known, err := e.store.LastKnown(ctx, t, ids)
		if err != nil {
			errs.add(newError(KindWrite, t, "", err))
			continue
		}
		for _, c := range group {
			local, exists := known[c.ID]
			if write, _ := upsert.Decide(c.RemoteModifiedAt, local, exists); write {
				todo = append(todo, c)
			} else {
				res.Skipped++
			}
		}
	}

	e.progress.Update(sid, progress.Patch{Total: len(todo), Processed: len(candidates) - len(todo)})

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxConcurrency)
	for _, c := range todo {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			wrote, serr := e.syncOne(detach(ctx), c.Type, c.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case serr != nil && serr.Kind == KindNotFound:
				res.Skipped++
			case serr != nil:
				errs.add(serr)
			case wrote:
				res.Synced++
			default:
				res.Skipped++
			}
			e.progress.Update(sid, progress.Patch{Processed: 1, CurrentItem: string(c.Type) + "/" + c.ID})
			return nil
		})
	}
	_ = g.Wait()

	res.Errors = errs.list()
	res.Success = e.finish(sid, ctx.Err()) == StateCompleted
	slog.Info("sync ids", "session", sid, "candidates", len(candidates), "synced", res.Synced, "skipped", res.Skipped, "errors", len(res.Errors))
	return res
}

// syncOne fetches, reflects and force-writes one record.
func (e *Engine) syncOne(ctx context.Context, t entity.Type, id string) (bool, *SyncError) {
	ent, serr := e.fetchOne(ctx, t, id)
	if serr != nil {
		return false, serr
	}

	schemaErrs := &errorList{}
	e.patchSchema(ctx, t, []*entity.Entity{ent}, schemaErrs)
	for _, se := range schemaErrs.list() {
		slog.Warn("schema patch", "type", t, "id", id, "error", se)
	}

	out, serr := e.write(ctx, ent, e.strategyFor(t, false))
	if serr != nil {
		return false, serr
	}
	return out.Wrote(), nil
}
