package controller

import (
	"context"

	"uplink-service/account"
	"uplink-service/apperr"
	"uplink-service/chat"
	"uplink-service/storage"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Check is one dependency checked by the health endpoint.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Controller holds the services behind the REST handlers.
type Controller struct {
	accounts *account.Service
	chat     *chat.Service
	storage  *storage.Storage
	checks   []Check
	log      *zap.Logger
}

func New(accounts *account.Service, chat *chat.Service, store *storage.Storage, checks []Check, log *zap.Logger) *Controller {
	return &Controller{
		accounts: accounts,
		chat:     chat,
		storage:  store,
		checks:   checks,
		log:      log.Named("controller"),
	}
}

func success(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    data,
	})
}

func reviewInput(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"status":  "error",
		"message": "Review your input",
		"data":    nil,
	})
}

// fail maps a service error onto the response envelope.
func (h *Controller) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindUnauthenticated:
		status = fiber.StatusUnauthorized
	case apperr.KindUnauthorized:
		status = fiber.StatusForbidden
	case apperr.KindNotFound:
		status = fiber.StatusNotFound
	case apperr.KindConflict:
		status = fiber.StatusConflict
	case apperr.KindInvalid:
		status = fiber.StatusBadRequest
	case apperr.KindUpstream:
		status = fiber.StatusBadGateway
	}
	if status >= fiber.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": apperr.Message(err),
		"data":    nil,
	})
}
