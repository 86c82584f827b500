package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/invoicehub/mirror/internal/progress"
)

// Runner starts operations either inline or detached from the request.
// Detached runs report through a progress session the caller can poll.
type Runner struct {
	progress *progress.Store
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewRunner(p *progress.Store) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{progress: p, ctx: ctx, cancel: cancel}
}

// Dispatch runs fn inline when the request asks for ?wait=true and
// responds with its result. Otherwise it creates a session, starts fn in
// the background and responds 202 with the session id.
func (r *Runner) Dispatch(c *gin.Context, category string, fn func(ctx context.Context) any) {
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		c.PureJSON(http.StatusOK, fn(c.Request.Context()))
		return
	}

	sid := r.progress.Create(category)
	ctx := progress.WithSession(r.ctx, sid)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				slog.Error("background run panicked", "category", category, "session", sid, "panic", p)
			}
		}()
		fn(ctx)
	}()

	c.PureJSON(http.StatusAccepted, Accepted{
		SessionID: sid,
		Progress:  "/v1/progress/" + sid,
	})
}

// Wait blocks until every background run has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown cancels background runs and waits for them until ctx is done.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
