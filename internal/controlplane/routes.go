package controlplane

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/invoicehub/mirror/internal/controlplane/handlers"
	"github.com/invoicehub/mirror/internal/controlplane/middleware"
	"github.com/invoicehub/mirror/internal/progress"
	"github.com/invoicehub/mirror/internal/version"
)

type RouteConfig struct {
	Auth middleware.TokenAuthConfig
	// RateLimit is requests per second per client ip. Zero uses 10.
	RateLimit int64
}

// Services are the operations the routes expose. Files may be nil when no
// storage backend is configured.
type Services struct {
	Engine   handlers.Engine
	Files    handlers.FileSyncer
	Progress *progress.Store
	Runner   *handlers.Runner
}

func SetupRoutes(svc *Services, routeConfig *RouteConfig) http.Handler {
	r := gin.New()

	rate := routeConfig.RateLimit
	if rate <= 0 {
		rate = 10
	}
	rateLimiter := limiter.New(memory.NewStore(), limiter.Rate{
		Period: 1 * time.Second,
		Limit:  rate,
	})

	if svc.Runner == nil {
		svc.Runner = handlers.NewRunner(svc.Progress)
	}
	syncH := handlers.NewSyncHandler(svc.Engine, svc.Runner)
	filesH := handlers.NewFilesHandler(svc.Files, svc.Runner)
	progressH := handlers.NewProgressHandler(svc.Progress)

	r.Use(middleware.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	r.Use(mgin.NewMiddleware(rateLimiter))

	r.GET("/", IndexHandler)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(routeConfig.Auth))
	{
		v1Sync := v1.Group("/sync")
		{
			v1Sync.POST("/all", syncH.All)
			v1Sync.POST("/invoices", syncH.Invoices)
			v1Sync.POST("/ids", syncH.IDs)
			v1Sync.POST("/type/:type", syncH.Type)
		}

		v1.POST("/reconcile/:type", syncH.Reconcile)
		v1.POST("/upload/:type", syncH.Upload)
		v1.POST("/files/:category", filesH.Sync)
		v1.GET("/progress/:id", progressH.Get)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":     version.AppName,
		"version": version.Detailed(),
	})
}
