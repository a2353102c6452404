package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"cubis-academy/middleware"
	"cubis-academy/services"
)

func (h *Handler) ListNotifications(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	notifications, err := h.Notifications.List(c.Context(), middleware.UserID(c), limit)
	if err != nil {
		slog.Error("Failed to list notifications", "error", err)
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notifications": notifications,
		"persistent":    h.Notifications.Persistent(),
	})
}

func (h *Handler) MarkNotificationRead(c *fiber.Ctx) error {
	err := h.Notifications.MarkRead(c.Context(), middleware.UserID(c), c.Params("id"))
	if errors.Is(err, services.ErrNotificationNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Notification not found",
		})
	} else if err != nil {
		slog.Error("Failed to mark notification read", "error", err)
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Notification marked as read",
	})
}
