package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"designscore-backend/internal/evaluations"
	"designscore-backend/internal/shared/config"
	"designscore-backend/internal/shared/metrics"
	"designscore-backend/internal/shared/server/middleware"
	"designscore-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers the router wires up.
type RouterDeps struct {
	Config            config.Config
	EvaluationHandler *evaluations.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
		middleware.Auth(cfg.Env),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	api.GET("/metrics", metrics.Handler())
	registerMeRoutes(api)

	evalGroup := api.Group("")
	evalGroup.Use(middleware.RateLimit(evaluationRateLimits()))
	if deps.EvaluationHandler != nil {
		deps.EvaluationHandler.RegisterRoutes(evalGroup)
	}

	return r
}

// evaluationRateLimits throttles evaluation starts harder than status reads.
func evaluationRateLimits() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"START": {Rate: 0.2, Burst: 3},
			"READ":  {Rate: 5, Burst: 20},
		},
		DefaultGroup: "READ",
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodPost {
				return "START"
			}
			return "READ"
		},
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
