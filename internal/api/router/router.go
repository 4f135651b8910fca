package router

import (
	"github.com/cuongbtq/image-bot/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Check)

	if deps.Updates != nil && deps.WebhookPath != "" {
		webhookHandler := handler.NewWebhookHandler(deps)
		r.POST(deps.WebhookPath, webhookHandler.Receive)
	}

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/jobs/:job_id - Get job details
		v1.GET("/jobs/:job_id", jobHandler.GetJob)

		// GET /api/v1/users/:telegram_id/jobs - List a user's jobs
		v1.GET("/users/:telegram_id/jobs", jobHandler.ListUserJobs)
	}

	return r
}
