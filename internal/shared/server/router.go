package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"compat-backend/internal/analyses"
	"compat-backend/internal/services/health"
	"compat-backend/internal/shared/config"
	"compat-backend/internal/shared/metrics"
	"compat-backend/internal/shared/server/middleware"
	"compat-backend/internal/shared/server/respond"
)

// RouterDeps lists the handlers mounted on the router.
type RouterDeps struct {
	Config          config.Config
	AnalysisHandler *analyses.Handler
	Health          *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	api := r.Group("/api/v1")
	api.GET("/health", healthHandler(deps.Health))
	api.GET("/metrics", metrics.Handler())
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}

	return r
}

// AnalysisRateLimit guards the run endpoint with the configured budget.
func AnalysisRateLimit(cfg config.Config) gin.HandlerFunc {
	if cfg.AnalysisRatePerMin <= 0 || cfg.AnalysisRateBurst <= 0 {
		return nil
	}
	return middleware.RateLimit(middleware.RateLimitConfig{
		DefaultGroup: "ANALYSIS",
		Rules: map[string]middleware.RateLimitRule{
			"ANALYSIS": middleware.PerMinute(cfg.AnalysisRatePerMin, cfg.AnalysisRateBurst),
		},
	})
}

func healthHandler(svc *health.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		ok, checks := svc.Status(c.Request.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, gin.H{"ok": ok, "checks": checks})
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
