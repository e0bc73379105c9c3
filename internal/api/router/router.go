package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/detect-pipeline/internal/api/handler"
)

// Options holds router settings that are not handler dependencies
type Options struct {
	ServiceName    string
	MetricsPath    string
	MetricsHandler http.Handler
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Ok")
	})

	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": opts.ServiceName,
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": opts.ServiceName,
		})
	})

	if opts.MetricsHandler != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(opts.MetricsHandler))
	}

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/jobs - Submit an image for detection
		v1.POST("/jobs", jobHandler.CreateJob)

		predictions := v1.Group("/predictions")
		{
			// GET /api/v1/predictions - List completed predictions
			predictions.GET("", jobHandler.ListPredictions)

			// GET /api/v1/predictions/:job_id - Get one prediction
			predictions.GET("/:job_id", jobHandler.GetPrediction)
		}
	}

	if deps.Updates != nil {
		botHandler := handler.NewBotHandler(deps)

		r.POST("/telegram/:token", botHandler.Webhook)
		r.POST("/loadTest", botHandler.LoadTest)
		if deps.ResultNotifier != nil {
			r.GET("/results", botHandler.Results)
		}
	}

	return r
}
