package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/progress"
	"github.com/invoicehub/mirror/internal/remote"
)

// SyncWithValidation writes an uploaded batch. The first record goes in on
// its own: if it cannot be mapped or written the batch is rejected with a
// ValidationError and nothing else is attempted. Later records fail
// independently.
func (e *Engine) SyncWithValidation(ctx context.Context, t entity.Type, records []remote.Record) *BatchResult {
	res := &BatchResult{}
	if !t.Valid() {
		res.ValidationError = newError(KindValidation, t, "", fmt.Errorf("unknown entity type %q", t))
		return res
	}
	if len(records) == 0 {
		res.ValidationError = newError(KindValidation, t, "", ErrEmptyBatch)
		return res
	}

	sid := e.session(ctx, "upload_"+string(t))
	e.progress.Update(sid, progress.Patch{Total: len(records)})
	errs := &errorList{}
	strategy := e.strategyFor(t, false)

	first, serr := e.mapRecord(t, records[0])
	if serr != nil {
		return e.reject(sid, res, serr)
	}

	// nothing from records 2..N touches the schema or the store before the
	// first record is in
	res.Schema = e.patchSchema(ctx, t, []*entity.Entity{first}, errs)
	res.Processed = 1
	out, serr := e.write(ctx, first, strategy)
	if serr != nil {
		return e.reject(sid, res, serr)
	}
	if out.Wrote() {
		res.Synced++
	} else {
		res.Skipped++
	}
	e.progress.Update(sid, progress.Patch{Processed: 1})

	mapErrs := map[int]*SyncError{}
	rest := make([]*entity.Entity, len(records))
	batch := make([]*entity.Entity, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		ent, serr := e.mapRecord(t, records[i])
		if serr != nil {
			mapErrs[i] = serr
			continue
		}
		rest[i] = ent
		batch = append(batch, ent)
	}
	if patched := e.patchSchema(ctx, t, batch, errs); patched != nil {
		if res.Schema == nil {
			res.Schema = patched
		} else {
			res.Schema.Merge(patched)
		}
	}

	for i := 1; i < len(records); i++ {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		if serr, ok := mapErrs[i]; ok {
			errs.add(serr)
			e.progress.Update(sid, progress.Patch{Processed: 1, Errors: 1})
			continue
		}
		out, serr := e.write(detach(ctx), rest[i], strategy)
		if serr != nil {
			errs.add(serr)
			e.progress.Update(sid, progress.Patch{Processed: 1, Errors: 1})
			continue
		}
		if out.Wrote() {
			res.Synced++
		} else {
			res.Skipped++
		}
		e.progress.Update(sid, progress.Patch{Processed: 1})
	}

	res.Errors = errs.list()
	res.Success = e.finish(sid, ctx.Err()) == StateCompleted
	slog.Info("upload", "type", t, "processed", res.Processed, "synced", res.Synced, "skipped", res.Skipped, "errors", len(res.Errors))
	return res
}

func (e *Engine) reject(sid string, res *BatchResult, cause *SyncError) *BatchResult {
	res.Processed = 1
	res.Synced = 0
	res.ValidationError = newError(KindValidation, cause.Type, cause.RemoteID, cause)
	e.progress.Fail(sid, res.ValidationError)
	slog.Warn("upload rejected", "type", cause.Type, "error", cause)
	return res
}
