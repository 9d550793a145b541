package handlers

import (
	"context"

	"video_pipeline_service/internal/pipeline/domain"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Submitter starts the pipeline of a video
type Submitter interface {
	StartPipeline(ctx context.Context, req domain.SubmitReq) (*domain.SubmitRes, error)
}

// StatusReader job status lookups
type StatusReader interface {
	Status(ctx context.Context, queueName, jobID string) (domain.JobStatus, error)
	PipelineStatus(ctx context.Context, videoID string) (*domain.PipelineStatusRes, error)
}

// HealthReader queue health / stats
type HealthReader interface {
	Health(ctx context.Context) domain.HealthReport
	Stats(ctx context.Context) domain.StatsReport
}

// PipelineHandler 處理 pipeline 相關的 HTTP 請求
type PipelineHandler struct {
	Submitter Submitter
	Status    StatusReader
	Health    HealthReader
}

// NewPipelineHandler create PipelineHandler
func NewPipelineHandler(submitter Submitter, status StatusReader, health HealthReader) *PipelineHandler {
	return &PipelineHandler{
		Submitter: submitter,
		Status:    status,
		Health:    health,
	}
}

// SubmitJob 送出影片處理
// @Summary Submit a video to the pipeline
// @Description Enqueues process-<videoId>; the ai and strategy stages follow automatically
// @Tags Pipeline
// @Accept json
// @Produce json
// @Param request body domain.SubmitReq true "submit request"
// @Success 200 {object} domain.SubmitRes "job accepted"
// @Failure 400 {object} ErrorBody "missing fields"
// @Failure 403 {object} ErrorBody "not the owner"
// @Failure 404 {object} ErrorBody "video not found"
// @Failure 409 {object} ErrorBody "pipeline already running"
// @Failure 503 {object} ErrorBody "job store unavailable"
// @Router /pipeline/jobs [post]
func (h *PipelineHandler) SubmitJob(c *fiber.Ctx) error {
	var req domain.SubmitReq
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, errprocess.New(errprocess.KindValidation, "invalid request body"))
	}

	logger.Log.Debug("SubmitJob request", zap.String("video_id", req.VideoID), zap.String("user_id", req.UserID))

	res, err := h.Submitter.StartPipeline(c.UserContext(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(res)
}

// JobStatus 查詢單一 job
// @Summary Get job status
// @Description Looks a job up in one of the stage queues (video, ai, strategy)
// @Tags Pipeline
// @Produce json
// @Param queue path string true "queue name: video, ai or strategy"
// @Param jobId path string true "job id, e.g. process-<videoId>"
// @Success 200 {object} domain.JobStatus "job status"
// @Failure 400 {object} ErrorBody "invalid queue name"
// @Failure 404 {object} domain.JobStatus "job not found"
// @Failure 503 {object} ErrorBody "job store unavailable"
// @Router /pipeline/jobs/{queue}/{jobId} [get]
func (h *PipelineHandler) JobStatus(c *fiber.Ctx) error {
	st, err := h.Status.Status(c.UserContext(), c.Params("queue"), c.Params("jobId"))
	if err != nil {
		if errprocess.KindOf(err) == errprocess.KindNotFound {
			// not_found 也是一種狀態，body 維持同一個格式
			return c.Status(fiber.StatusNotFound).JSON(st)
		}
		return errorResponse(c, err)
	}
	return c.JSON(st)
}

// VideoStatus 查詢一支影片的三個階段
// @Summary Get pipeline status of a video
// @Description Resolves process-, analyze- and strategy-<videoId>; unreached stages are not_found
// @Tags Pipeline
// @Produce json
// @Param videoId path string true "video id"
// @Success 200 {object} domain.PipelineStatusRes "stages"
// @Failure 503 {object} ErrorBody "job store unavailable"
// @Router /pipeline/videos/{videoId}/status [get]
func (h *PipelineHandler) VideoStatus(c *fiber.Ctx) error {
	res, err := h.Status.PipelineStatus(c.UserContext(), c.Params("videoId"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(res)
}

// QueueHealth 檢查所有 queue
// @Summary Queue health
// @Description 503 when any queue is down or has too many failed jobs
// @Tags Pipeline
// @Produce json
// @Success 200 {object} domain.HealthReport "healthy"
// @Failure 503 {object} domain.HealthReport "degraded"
// @Router /pipeline/health [get]
func (h *PipelineHandler) QueueHealth(c *fiber.Ctx) error {
	report := h.Health.Health(c.UserContext())
	if !report.Healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}

// QueueStats dashboard counts
// @Summary Queue stats
// @Description waiting / active / completed / failed per queue
// @Tags Pipeline
// @Produce json
// @Success 200 {object} domain.StatsReport "stats"
// @Router /pipeline/stats [get]
func (h *PipelineHandler) QueueStats(c *fiber.Ctx) error {
	return c.JSON(h.Health.Stats(c.UserContext()))
}
