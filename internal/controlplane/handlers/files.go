package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/invoicehub/mirror/internal/files"
	"github.com/invoicehub/mirror/internal/progress"
)

type FileSyncer interface {
	SyncFilesByCategory(ctx context.Context, category files.Category, limit int, sessionID string) (*files.Result, error)
}

type FilesHandler struct {
	syncer FileSyncer
	runner *Runner
}

func NewFilesHandler(syncer FileSyncer, runner *Runner) *FilesHandler {
	return &FilesHandler{syncer: syncer, runner: runner}
}

// Sync godoc
//
//	POST /v1/files/:category[?limit=N][&wait=true]
func (h *FilesHandler) Sync(c *gin.Context) {
	if h.syncer == nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeUnavailable, errors.New("file storage is not configured"))
		return
	}

	category, err := files.ParseCategory(c.Param("category"))
	if err != nil {
		AbortWithError(c, http.StatusNotFound, ErrCodeBadRequest, err)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
	}

	h.runner.Dispatch(c, "files_"+string(category), func(ctx context.Context) any {
		sid, _ := progress.SessionFrom(ctx)
		res, err := h.syncer.SyncFilesByCategory(ctx, category, limit, sid)
		if err != nil {
			h.runner.progress.Fail(sid, err)
			return ControlPlaneError{ErrorCode: ErrCodeUnknownError, Error: err.Error()}
		}
		return res
	})
}
