package engine

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/progress"
	"github.com/invoicehub/mirror/internal/remote"
	"github.com/invoicehub/mirror/internal/upsert"
	"golang.org/x/sync/errgroup"
)

// SyncInvoicesModifiedBetween syncs invoices whose remote modification time
// lies in [from, to] together with the records they reference. An invoice
// and all of its relations are written when the invoice or any single
// relation is stale; templates of written invoices follow afterwards.
func (e *Engine) SyncInvoicesModifiedBetween(ctx context.Context, from, to time.Time) *InvoiceSyncResult {
	start := time.Now()
	sid := e.session(ctx, "sync_invoices")
	res := &InvoiceSyncResult{SessionID: sid, From: from, To: to, State: StateFetching}
	errs := &errorList{}
	defer func() {
		res.Errors = errs.list()
		res.Duration = time.Since(start)
		slog.Info("sync invoices",
			"session", sid,
			"from", from, "to", to,
			"considered", res.Considered,
			"needsSync", res.NeedsSync,
			"written", res.Roots.Written(),
			"relations", res.Relations.Written(),
			"templates", res.Templates.Written(),
			"errors", len(res.Errors),
			"state", res.State,
			"took", res.Duration,
		)
	}()

	e.progress.Update(sid, progress.Patch{CurrentItem: string(entity.Invoice), Message: string(StateFetching)})
	col, err := e.remote.FetchAll(ctx, entity.Invoice, nil)
	if err != nil {
		errs.add(newError(KindFetch, entity.Invoice, "", err))
		res.State = e.finish(sid, err)
		return res
	}
	res.Partial = col.Partial
	if col.Err != nil {
		errs.add(newError(KindFetch, entity.Invoice, "", col.Err))
	}

	records := remote.FilterModifiedBetween(col.Records, from, to)
	res.Considered = len(records)
	res.Roots.Fetched = len(records)

	res.State = StateDeciding
	e.state(sid, StateDeciding)
	invoices := make([]*entity.Entity, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		inv, serr := e.mapRecord(entity.Invoice, rec)
		if serr != nil {
			errs.add(serr)
			res.Roots.Failed++
			continue
		}
		invoices = append(invoices, inv)
		ids = append(ids, inv.RemoteID)
	}
	res.Schema = e.patchSchema(ctx, entity.Invoice, invoices, errs)

	known, err := e.store.LastKnown(ctx, entity.Invoice, ids)
	if err != nil {
		errs.add(newError(KindWrite, entity.Invoice, "", err))
		res.State = e.finish(sid, err)
		return res
	}

	e.progress.Update(sid, progress.Patch{Total: len(invoices)})
	templates := mapset.NewThreadUnsafeSet[string]()
	for _, inv := range invoices {
		if ctx.Err() != nil {
			break
		}
		written := e.syncInvoicePackage(ctx, sid, inv, known, res, errs)
		if tid := inv.String(entity.ColTemplateID); written && tid != "" {
			templates.Add(tid)
		}
		e.progress.Update(sid, progress.Patch{Processed: 1})
	}

	if ctx.Err() == nil && templates.Cardinality() > 0 {
		res.State = StateSyncingSecondary
		e.state(sid, StateSyncingSecondary)
		ids := templates.ToSlice()
		slices.Sort(ids)
		e.syncSecondary(ctx, entity.Template, ids, &res.Templates, errs)
	}

	res.State = e.finish(sid, ctx.Err())
	res.Success = res.State == StateCompleted
	return res
}

// syncInvoicePackage decides and writes one invoice with its relations. It
// reports whether the invoice row was written.
func (e *Engine) syncInvoicePackage(ctx context.Context, sid string, inv *entity.Entity, known map[string]time.Time, res *InvoiceSyncResult, errs *errorList) bool {
	local, exists := known[inv.RemoteID]
	rootStale, reason := upsert.Decide(inv.ModifiedAt, local, exists)

	e.progress.Update(sid, progress.Patch{CurrentItem: "invoice/" + inv.RemoteID, Message: string(StateDeciding)})
	related, complete := e.fetchRelations(ctx, entity.AsInvoice(inv).Relations(), &res.Relations, errs)
	if !complete {
		slog.Debug("invoice package abandoned", "id", inv.RemoteID, "fetched", len(related))
		return false
	}

	// every relation is in hand; the package is finished even if the run is
	// cancelled meanwhile
	ctx = detach(ctx)
	relStale, err := e.anyStale(ctx, related)
	if err != nil {
		errs.add(newError(KindWrite, entity.Invoice, inv.RemoteID, err))
		res.Roots.Failed++
		return false
	}

	if !rootStale && !relStale {
		slog.Debug("invoice package up to date", "id", inv.RemoteID, "reason", reason, "relations", len(related))
		res.Roots.Skipped++
		return false
	}
	res.NeedsSync++

	// infection: every relation is written once anything in the package is stale
	e.progress.Update(sid, progress.Patch{Message: string(StateSyncingRelations)})
	byType := groupByType(related)
	for _, t := range slices.Sorted(maps.Keys(byType)) {
		e.patchSchema(ctx, t, byType[t], errs)
		strategy := e.strategyFor(t, false)
		for _, rel := range byType[t] {
			out, serr := e.write(ctx, rel, strategy)
			if serr != nil {
				errs.add(serr)
				res.Relations.Failed++
				continue
			}
			res.Relations.add(out)
		}
	}

	e.progress.Update(sid, progress.Patch{Message: string(StateSyncingRoot)})
	out, serr := e.write(ctx, inv, e.strategyFor(entity.Invoice, false))
	if serr != nil {
		errs.add(serr)
		res.Roots.Failed++
		return false
	}
	res.Roots.add(out)
	return true
}

// fetchRelations reads the referenced records concurrently. Missing records
// are skipped; the dangling reference stays on the root. Once ctx is
// cancelled no further fetch starts, and complete reports false.
func (e *Engine) fetchRelations(ctx context.Context, refs []entity.Ref, counts *Counts, errs *errorList) (fetched []*entity.Entity, complete bool) {
	fetched = make([]*entity.Entity, len(refs))
	launched := 0

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			ent, serr := e.fetchOne(detach(ctx), ref.Type, ref.RemoteID)

			mu.Lock()
			defer mu.Unlock()
			launched++
			switch {
			case serr == nil:
				counts.Fetched++
				fetched[i] = ent
			case serr.Kind == KindNotFound:
				counts.Skipped++
			default:
				errs.add(serr)
				counts.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	fetched = slices.DeleteFunc(fetched, func(ent *entity.Entity) bool { return ent == nil })
	return fetched, launched == len(refs)
}

// anyStale reports whether any fetched record is missing locally or newer
// than its local row.
func (e *Engine) anyStale(ctx context.Context, related []*entity.Entity) (bool, error) {
	for t, group := range groupByType(related) {
		ids := make([]string, len(group))
		for i, ent := range group {
			ids[i] = ent.RemoteID
		}
		known, err := e.store.LastKnown(ctx, t, ids)
		if err != nil {
			return false, err
		}
		for _, ent := range group {
			local, exists := known[ent.RemoteID]
			if stale, _ := upsert.Decide(ent.ModifiedAt, local, exists); stale {
				slog.Debug("stale relation", "type", t, "id", ent.RemoteID)
				return true, nil
			}
		}
	}
	return false, nil
}

// syncSecondary fetches records by id and writes them newer-wins. Records
// fetched before a cancellation are still written.
func (e *Engine) syncSecondary(ctx context.Context, t entity.Type, ids []string, counts *Counts, errs *errorList) {
	fetched, _ := e.fetchRelations(ctx, refsOf(t, ids), counts, errs)
	ctx = detach(ctx)
	e.patchSchema(ctx, t, fetched, errs)

	strategy := e.strategyFor(t, true)
	for _, ent := range fetched {
		out, serr := e.write(ctx, ent, strategy)
		if serr != nil {
			errs.add(serr)
			counts.Failed++
			continue
		}
		counts.add(out)
	}
}

func refsOf(t entity.Type, ids []string) []entity.Ref {
	refs := make([]entity.Ref, len(ids))
	for i, id := range ids {
		refs[i] = entity.Ref{Type: t, RemoteID: id}
	}
	return refs
}

func groupByType(ents []*entity.Entity) map[entity.Type][]*entity.Entity {
	out := map[entity.Type][]*entity.Entity{}
	for _, ent := range ents {
		out[ent.Type] = append(out[ent.Type], ent)
	}
	return out
}
