package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/simulacro-backend/internal/config"
	"github.com/stemsi/simulacro-backend/internal/handler"
	"github.com/stemsi/simulacro-backend/internal/middleware"
	"github.com/stemsi/simulacro-backend/internal/response"
	"github.com/stemsi/simulacro-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Simulacro *handler.SimulacroHandler
	WS        *handler.WSHandler
	Ops       *handler.OpsHandler
	Health    *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background helpers such as rate limiter cleanup.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", middleware.HeaderOpsSecret}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware(log))
	router.Use(requestLogger())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Health.Health)

	// Autosave fires every few seconds per open tab.
	studentLimiter := middleware.NewRateLimiter(ctx, 120, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		studentLimiter.PerStudent(),
	)
	{
		studentAPI.GET("/exams/:exam_id", handlers.Simulacro.GetExam)
		studentAPI.POST("/exams/:exam_id/sections/:section_id/open", handlers.Simulacro.OpenSection)
		studentAPI.PUT("/attempts/:attempt_id/autosave", handlers.Simulacro.Autosave)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Simulacro.Submit)
		studentAPI.GET("/exam-attempts/:exam_attempt_id/results", handlers.Simulacro.GetResults)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Ops Group (Operational Secret, Rate Limited) ───────────────
	opsLimiter := middleware.NewRateLimiter(ctx, 10, time.Minute)
	opsAPI := router.Group("/api/v1/ops")
	opsAPI.Use(opsLimiter.Middleware(), middleware.RequireOpsSecret(authService))
	{
		opsAPI.POST("/reconcile", handlers.Ops.Reconcile)
	}

	return router
}

// requestLogger logs one line per request through the request-scoped logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := zerolog.Ctx(c.Request.Context()).Debug()
		if c.Writer.Status() >= 500 {
			ev = zerolog.Ctx(c.Request.Context()).Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}
