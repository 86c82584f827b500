package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/invoicehub/mirror/internal/engine"
	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/remote"
	"github.com/invoicehub/mirror/internal/utils"
)

// Engine is the set of engine operations exposed over HTTP.
type Engine interface {
	SyncAll(ctx context.Context) *engine.SyncResult
	SyncEntityType(ctx context.Context, t entity.Type) *engine.TypeResult
	SyncInvoicesModifiedBetween(ctx context.Context, from, to time.Time) *engine.InvoiceSyncResult
	SyncByIDs(ctx context.Context, candidates []engine.Candidate) *engine.IDSyncResult
	ReconcileReport(ctx context.Context, t entity.Type, dryRun bool) (*engine.ReconcileResult, error)
	SyncWithValidation(ctx context.Context, t entity.Type, records []remote.Record) *engine.BatchResult
}

type SyncHandler struct {
	engine Engine
	runner *Runner
}

func NewSyncHandler(eng Engine, runner *Runner) *SyncHandler {
	return &SyncHandler{engine: eng, runner: runner}
}

// All godoc
//
//	POST /v1/sync/all[?wait=true]
func (h *SyncHandler) All(c *gin.Context) {
	h.runner.Dispatch(c, "sync_all", func(ctx context.Context) any {
		return h.engine.SyncAll(ctx)
	})
}

// Type godoc
//
//	POST /v1/sync/type/:type[?wait=true]
func (h *SyncHandler) Type(c *gin.Context) {
	t, ok := bindType(c)
	if !ok {
		return
	}
	h.runner.Dispatch(c, "sync_"+t.String(), func(ctx context.Context) any {
		return h.engine.SyncEntityType(ctx, t)
	})
}

// Invoices godoc
//
//	POST /v1/sync/invoices?from=<rfc3339>&to=<rfc3339>[&wait=true]
func (h *SyncHandler) Invoices(c *gin.Context) {
	from, err := utils.ParseWindowBound(c.Query("from"), false)
	if err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	to, err := utils.ParseWindowBound(c.Query("to"), true)
	if err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Errorf("to: %w", err))
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errors.New("to is before from"))
		return
	}

	h.runner.Dispatch(c, "sync_invoices", func(ctx context.Context) any {
		return h.engine.SyncInvoicesModifiedBetween(ctx, from, to)
	})
}

// IDs godoc
//
//	POST /v1/sync/ids[?wait=true]  body: [{"type","id","remote_modified_at"}]
func (h *SyncHandler) IDs(c *gin.Context) {
	var candidates []engine.Candidate
	if err := c.ShouldBindJSON(&candidates); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	for i, cand := range candidates {
		t, err := entity.ParseType(cand.Type.String())
		if err != nil {
			AbortWithError(c, http.StatusBadRequest, ErrCodeUnknownType, fmt.Errorf("candidate %d: %w", i, err))
			return
		}
		candidates[i].Type = t
	}

	h.runner.Dispatch(c, "sync_ids", func(ctx context.Context) any {
		return h.engine.SyncByIDs(ctx, candidates)
	})
}

// Reconcile godoc
//
//	POST /v1/reconcile/:type[?dry_run=true]
//
// Always runs inline so refusals reach the caller.
func (h *SyncHandler) Reconcile(c *gin.Context) {
	t, ok := bindType(c)
	if !ok {
		return
	}
	dryRun := c.Query("dry_run") == "true" || c.Query("dry_run") == "1"

	res, err := h.engine.ReconcileReport(c.Request.Context(), t, dryRun)
	switch {
	case errors.Is(err, engine.ErrNotReconcilable):
		AbortWithError(c, http.StatusBadRequest, ErrCodeNotReconcilable, err)
	case errors.Is(err, engine.ErrPartialRemoteSet):
		AbortWithError(c, http.StatusConflict, ErrCodePartialRemoteSet, err)
	case err != nil:
		AbortWithError(c, http.StatusBadGateway, ErrCodeUnavailable, err)
	default:
		c.PureJSON(http.StatusOK, res)
	}
}

// Upload godoc
//
//	POST /v1/upload/:type  body: [record, ...]
//
// Runs inline. A rejected batch answers 422 with the validation error.
func (h *SyncHandler) Upload(c *gin.Context) {
	t, ok := bindType(c)
	if !ok {
		return
	}
	var records []remote.Record
	if err := c.ShouldBindJSON(&records); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	res := h.engine.SyncWithValidation(c.Request.Context(), t, records)
	status := http.StatusOK
	if res.ValidationError != nil {
		status = http.StatusUnprocessableEntity
	}
	c.PureJSON(status, res)
}

func bindType(c *gin.Context) (entity.Type, bool) {
	t, err := entity.ParseType(c.Param("type"))
	if err != nil {
		AbortWithError(c, http.StatusNotFound, ErrCodeUnknownType, err)
		return "", false
	}
	return t, true
}
