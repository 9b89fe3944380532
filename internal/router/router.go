package router

import (
	"net/http"
	"time"

	"github.com/courseloop/simulation-backend/internal/config"
	"github.com/courseloop/simulation-backend/internal/handler"
	"github.com/courseloop/simulation-backend/internal/middleware"
	"github.com/courseloop/simulation-backend/internal/response"
	"github.com/courseloop/simulation-backend/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth   *handler.AuthHandler
	Test   *handler.TestHandler
	Stream *handler.StreamHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.GET("/profile", handlers.Auth.GetProfile)
		studentAPI.GET("/active-test", handlers.Test.GetActiveTest)

		studentAPI.POST("/suites/:suite_id/tests", handlers.Test.StartTest)

		studentAPI.POST("/tests/:test_id/pause", handlers.Test.PauseTest)
		studentAPI.POST("/tests/:test_id/resume", handlers.Test.ResumeTest)
		studentAPI.POST("/tests/:test_id/end", handlers.Test.EndTest)

		studentAPI.POST("/tests/:test_id/answers", handlers.Test.SubmitAnswer)
		studentAPI.GET("/tests/:test_id/answers", handlers.Test.GetAttemptedAnswers)
		studentAPI.GET("/tests/:test_id/question", handlers.Test.GetQuestion)
		studentAPI.GET("/tests/:test_id/stats", handlers.Test.GetTestStats)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/tests/:test_id/stream", handlers.Stream.TestStream)
	}

	return router
}
