package controller

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Health pings every dependency and reports the first that fails.
func (h *Controller) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.log.Warn("health check failed", zap.String("dependency", check.Name), zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "error",
				"message": check.Name + " unavailable",
				"data":    nil,
			})
		}
	}
	return success(c, fiber.Map{"state": "operational"})
}
