package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/invoicehub/mirror/internal/progress"
)

type ProgressHandler struct {
	store *progress.Store
}

func NewProgressHandler(store *progress.Store) *ProgressHandler {
	return &ProgressHandler{store: store}
}

// Get godoc
//
//	GET /v1/progress/:id
func (h *ProgressHandler) Get(c *gin.Context) {
	id := c.Param("id")
	snap, ok := h.store.Get(id)
	if !ok {
		AbortWithError(c, http.StatusNotFound, ErrCodeNotFound, fmt.Errorf("no session %q", id))
		return
	}
	c.PureJSON(http.StatusOK, snap)
}
