package app

import (
	"github.com/yungbote/codeframe-backend/internal/clients/redis"
	httpserver "github.com/yungbote/codeframe-backend/internal/http"
	httpH "github.com/yungbote/codeframe-backend/internal/http/handlers"
	httpMW "github.com/yungbote/codeframe-backend/internal/http/middleware"
)

// Server builds the HTTP server; Wire must have run.
func (a *App) Server() *httpserver.Server {
	limiter := httpMW.NewLocalLimiter()
	if a.Redis != nil {
		limiter = redis.NewRateLimiter(a.Redis, a.Cfg.Redis.Prefix)
	}
	serviceName := ""
	if a.Cfg.Otel.Enabled {
		serviceName = a.Cfg.Otel.ServiceName
	}
	return httpserver.NewServer(httpserver.RouterConfig{
		Log:               a.Log,
		ServiceName:       serviceName,
		CORSOrigins:       a.Cfg.Server.CORSOrigins,
		Metrics:           a.Metrics,
		Limiter:           limiter,
		StartPerMinute:    a.Cfg.RateLimit.StartPerMinute,
		DefaultPerMinute:  a.Cfg.RateLimit.DefaultPerMinute,
		GenerationHandler: httpH.NewGenerationHandler(a.Services.Orchestrator),
		HierarchyHandler:  httpH.NewHierarchyHandler(a.Services.Hierarchy, a.Services.Apply),
		HealthHandler:     httpH.NewHealthHandler(a.Services.Health),
	})
}
