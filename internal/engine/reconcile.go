package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/invoicehub/mirror/internal/entity"
)

// Reconcile deletes local rows of t whose remote record no longer exists
// and returns how many were removed.
func (e *Engine) Reconcile(ctx context.Context, t entity.Type) (int, error) {
	res, err := e.ReconcileReport(ctx, t, false)
	if err != nil {
		return 0, err
	}
	return len(res.Deleted), nil
}

// ReconcileReport compares the remote and local id sets of t. With dryRun
// it only lists the rows that would be deleted. A partial remote id set is
// refused so rows are never removed because a fetch failed.
func (e *Engine) ReconcileReport(ctx context.Context, t entity.Type, dryRun bool) (*ReconcileResult, error) {
	if !e.IsReconcilable(t) {
		return nil, fmt.Errorf("%w: %s", ErrNotReconcilable, t)
	}

	remoteIDs, err := e.remote.FetchIDs(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", t, err)
	}
	if remoteIDs.Partial {
		slog.Warn("reconcile refused", "type", t, "fetched", len(remoteIDs.IDs), "error", remoteIDs.Err)
		return nil, fmt.Errorf("%w: %s: %v", ErrPartialRemoteSet, t, remoteIDs.Err)
	}

	localIDs, err := e.store.ListIDs(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", t, err)
	}

	res := &ReconcileResult{
		Type:   t,
		Remote: len(remoteIDs.IDs),
		Local:  len(localIDs),
		DryRun: dryRun,
	}

	if dryRun {
		stale := mapset.NewThreadUnsafeSet(localIDs...).Difference(mapset.NewThreadUnsafeSet(remoteIDs.IDs...)).ToSlice()
		slices.Sort(stale)
		res.Deleted = stale
		return res, nil
	}

	res.Deleted, err = e.store.DeleteMissing(ctx, t, remoteIDs.IDs)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", t, err)
	}

	slog.Info("reconcile", "type", t, "remote", res.Remote, "local", res.Local, "deleted", len(res.Deleted))
	return res, nil
}
