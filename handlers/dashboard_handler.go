package handlers

import (
	"fmt"
	"html"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"cubis-academy/middleware"
)

// Dashboard is the landing page for signed-in users.
func (h *Handler) Dashboard(c *fiber.Ctx) error {
	email, _ := c.Locals(middleware.LocalEmail).(string)
	role, _ := c.Locals(middleware.LocalRole).(string)

	c.Type("html")
	return c.SendString(fmt.Sprintf(
		"<!doctype html><title>CUBIS Academy</title><h1>CUBIS Academy</h1><p>Signed in as %s (%s)</p>",
		html.EscapeString(email), html.EscapeString(role),
	))
}

func (h *Handler) Health(c *fiber.Ctx) error {
	active, err := h.Sessions.CountActive(c.Context())
	if err != nil {
		slog.Error("Health check failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "degraded",
			"service": "cubis-academy",
		})
	}

	return c.JSON(fiber.Map{
		"status":          "ok",
		"service":         "cubis-academy",
		"cache":           h.CacheBackend,
		"active_sessions": active,
	})
}
