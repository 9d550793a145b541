package main

import (
	"video_pipeline_service/internal/api/router"

	"github.com/gofiber/fiber/v2"
)

// 服務本體在 cmd/pipeline_service。此程式用於 init swagger
// swag init output ./docs
func main() {
	app := fiber.New()

	router.RegisterRoutes(app, nil, nil)
}
