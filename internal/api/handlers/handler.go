package handlers

import (
	"fmt"
	"net/url"
	"strconv"

	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorBody error response
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail machine readable kind + human readable detail
type ErrorDetail struct {
	Kind   errprocess.Kind `json:"kind"`
	Detail string          `json:"detail"`
}

// ConnectCheck check api connect start
// @Summary Check pipeline service status
// @Description Returns a simple confirmation message
// @Tags Shared
// @Success 200 {string} string "pipeline service start!"
// @Router / [get]
func ConnectCheck(c *fiber.Ctx) error {
	return c.SendString("pipeline service start!")
}

// DebugLogFlag toggle debug log flag
// @Summary Toggle Debug Log Flag
// @Description Enable or disable debug logging for a service
// @Tags Shared
// @Param service query string true "Service name"
// @Param status query bool true "Debug status"
// @Success 200 {string} string "Service debug mode updated"
// @Failure 400 {string} string "Invalid status value"
// @Router /debug [post]
func DebugLogFlag(c *fiber.Ctx) error {
	query, err := url.ParseQuery(string(c.Context().QueryArgs().QueryString()))
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	service := query.Get("service")
	statusStr := query.Get("status")
	logger.Log.Info("debug", zap.String("service", service), zap.String("status", statusStr))
	status, err := strconv.ParseBool(statusStr)
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	logger.Log.SetDebugMode(status)
	return c.SendString(fmt.Sprintf("service[%s]: debug mode is : %t", service, status))
}

// statusOf kind -> http status
func statusOf(kind errprocess.Kind) int {
	switch kind {
	case errprocess.KindValidation, errprocess.KindInvalidQueueName:
		return fiber.StatusBadRequest
	case errprocess.KindUnauthorized:
		return fiber.StatusUnauthorized
	case errprocess.KindForbidden:
		return fiber.StatusForbidden
	case errprocess.KindNotFound:
		return fiber.StatusNotFound
	case errprocess.KindDuplicateJob, errprocess.KindNotReady:
		return fiber.StatusConflict
	case errprocess.KindStorageUnavailable, errprocess.KindTransientQueue:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// errorResponse 只回傳 kind 與 detail，不把底層錯誤丟給 client
func errorResponse(c *fiber.Ctx, err error) error {
	kind := errprocess.KindOf(err)
	detail := errprocess.DetailOf(err)
	status := statusOf(kind)
	if status >= fiber.StatusInternalServerError {
		logger.Log.Error("request failed", zap.String("path", c.Path()), zap.String("kind", string(kind)), zap.Error(err))
	} else {
		logger.Log.Debug("request rejected", zap.String("path", c.Path()), zap.String("kind", string(kind)), zap.String("detail", detail))
	}
	return c.Status(status).JSON(ErrorBody{Error: ErrorDetail{Kind: kind, Detail: detail}})
}
