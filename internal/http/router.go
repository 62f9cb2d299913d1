package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/codeframe-backend/internal/http/handlers"
	httpMW "github.com/yungbote/codeframe-backend/internal/http/middleware"
	"github.com/yungbote/codeframe-backend/internal/observability"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

const (
	bucketStart   = "generation_start"
	bucketDefault = "default"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	Limiter          httpMW.Limiter
	StartPerMinute   int
	DefaultPerMinute int

	GenerationHandler *httpH.GenerationHandler
	HierarchyHandler  *httpH.HierarchyHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	limited := r.Group("/")
	limited.Use(httpMW.RateLimit(cfg.Limiter, cfg.Log, bucketDefault, cfg.DefaultPerMinute))
	{
		// Generations
		if cfg.GenerationHandler != nil {
			limited.POST("/generations",
				httpMW.RateLimit(cfg.Limiter, cfg.Log, bucketStart, cfg.StartPerMinute),
				cfg.GenerationHandler.Start)
			limited.GET("/generations/:id/status", cfg.GenerationHandler.Status)
			limited.DELETE("/generations/:id", cfg.GenerationHandler.Delete)
		}

		// Hierarchy
		if cfg.HierarchyHandler != nil {
			limited.GET("/generations/:id/hierarchy", cfg.HierarchyHandler.Get)
			limited.PATCH("/generations/:id/hierarchy", cfg.HierarchyHandler.Edit)
			limited.POST("/generations/:id/apply", cfg.HierarchyHandler.Apply)
		}
	}

	return r
}
