package handlers

import (
	"context"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
)

// Streamer signed url gateway
type Streamer interface {
	Stream(ctx context.Context, userID, videoID string) (*domain.StreamRes, error)
}

// StreamingHandler playback url handler
type StreamingHandler struct {
	Gateway Streamer
}

// NewStreamingHandler create streaming handler
func NewStreamingHandler(gateway Streamer) *StreamingHandler {
	return &StreamingHandler{
		Gateway: gateway,
	}
}

// Stream godoc
// @Summary Get a signed playback url
// @Description Returns short-lived urls for the HLS manifest and the thumbnail of a READY video
// @Tags Streaming
// @Produce json
// @Param videoId path string true "video id"
// @Param auth query string false "jwt when no Authorization header"
// @Success 200 {object} domain.StreamRes "signed urls"
// @Failure 401 {object} ErrorBody "login required"
// @Failure 403 {object} ErrorBody "not the owner"
// @Failure 404 {object} ErrorBody "video not found"
// @Failure 409 {object} ErrorBody "video not ready"
// @Failure 503 {object} ErrorBody "storage unavailable"
// @Router /stream/{videoId} [get]
func (s *StreamingHandler) Stream(c *fiber.Ctx) error {
	res, err := s.Gateway.Stream(c.UserContext(), middlewares.CurrentUser(c), c.Params("videoId"))
	if err != nil {
		return errorResponse(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(res)
}
