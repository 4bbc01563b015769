package api

import (
	"retryflow/internal/metrics"
	"retryflow/internal/middleware"
	"retryflow/internal/repository"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Retry  *RetryHandler
	Task   *TaskHandler
	Auth   *AuthHandler
	Health *HealthHandler
}

type RouterDeps struct {
	Configs     repository.ConfigInterface
	Tokens      middleware.TokenParser
	RateLimiter *middleware.RateLimiter
	DevMode     bool
}

func RegisterRoutes(h Handlers, deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.CorsMiddleware(),
		middleware.RequestID(),
		middleware.TraceMiddleware(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
	)
	r.SetTrustedProxies(nil)

	// Public Routes
	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := r.Group("/v1/auth")
	{
		auth.POST("/login", h.Auth.Login)
		auth.POST("/refresh", h.Auth.Refresh)
	}

	// Client node routes, admitted per group
	node := r.Group("/v1")
	node.Use(middleware.GroupMiddleware(deps.Configs))
	{
		node.POST("/register", h.Retry.Register)
		node.POST("/report", deps.RateLimiter.Middleware(), h.Retry.Report)
		node.POST("/report/batch", deps.RateLimiter.Middleware(), h.Retry.BatchReport)
	}

	// Operator routes
	admin := r.Group("/v1/admin")
	admin.Use(middleware.JWTMiddleware(deps.Tokens, deps.DevMode))
	{
		admin.GET("/me", h.Auth.GetProfile)
		admin.POST("/logout", h.Auth.Logout)

		admin.GET("/groups/:group/tasks", h.Task.ListTasks)
		admin.POST("/groups/:group/tasks", h.Task.SaveTask)
		admin.GET("/groups/:group/due", h.Task.ListDue)
		admin.GET("/groups/:group/tasks/:id", h.Task.GetTask)
		admin.PUT("/groups/:group/tasks/:id/status", h.Task.UpdateStatus)
		admin.PUT("/groups/:group/executor-name", h.Task.UpdateExecutorName)
		admin.DELETE("/groups/:group/tasks", h.Task.DeleteTasks)
		admin.POST("/groups/:group/idempotent-id", h.Task.GenerateIdempotentID)
		admin.POST("/groups/:group/sweep", h.Task.Sweep)
		admin.GET("/groups/:group/nodes", h.Task.ListNodes)
	}
	return r
}
