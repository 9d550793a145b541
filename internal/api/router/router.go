package router

import (
	"video_pipeline_service/internal/api/handlers"
	"video_pipeline_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 註冊 pipeline 與 stream 路由
// @title Video Pipeline Service API
// @version 1.0
// @description API documentation for Video Pipeline Service
// @host localhost:8080
// @BasePath /
func RegisterRoutes(app *fiber.App, pipelineHandler *handlers.PipelineHandler, streamingHandler *handlers.StreamingHandler) {
	app.Get("/swagger/*", swagger.HandlerDefault)
	app.Get("/", handlers.ConnectCheck)
	app.Post("/debug", handlers.DebugLogFlag)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	pipelineRoutes := app.Group("/pipeline")
	pipelineRoutes.Post("/jobs", pipelineHandler.SubmitJob)
	pipelineRoutes.Get("/jobs/:queue/:jobId", pipelineHandler.JobStatus)
	pipelineRoutes.Get("/videos/:videoId/status", pipelineHandler.VideoStatus)
	pipelineRoutes.Get("/health", pipelineHandler.QueueHealth)
	pipelineRoutes.Get("/stats", pipelineHandler.QueueStats)

	streamRoutes := app.Group("/stream")
	streamRoutes.Use(middlewares.JWTMiddleware())
	streamRoutes.Get("/:videoId", streamingHandler.Stream)
}
