package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kiraya-in/kiraya-api/internal/config"
	"github.com/kiraya-in/kiraya-api/internal/utils"
)

var startedAt = time.Now().UTC()

// HealthResponse is the liveness payload. Uptime lets the deployment
// dashboard tell a fresh restart from a long-running instance without
// scraping metrics.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Uptime      string    `json:"uptime"`
}

// HealthCheck reports process liveness. It deliberately does not touch
// postgres or redis: the chat gateway degrades rather than dies when a
// backing store blips, and the probe should not flap with it.
func HealthCheck(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		now := time.Now().UTC()
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   now,
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Uptime:      now.Sub(startedAt).Round(time.Second).String(),
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
