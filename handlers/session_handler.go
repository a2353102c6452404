package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"cubis-academy/middleware"
	"cubis-academy/models"
	"cubis-academy/services"
)

// SessionView is a session as shown on the "your devices" page.
type SessionView struct {
	models.Session
	Current bool `json:"current"`
}

func (h *Handler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.Sessions.ListActive(c.Context(), middleware.UserID(c))
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		return fiber.ErrInternalServerError
	}

	current := middleware.SessionToken(c)
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{Session: s, Current: s.SessionToken == current})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"sessions": views,
		"total":    len(views),
	})
}

// RevokeSession signs out one of the caller's own sessions, addressed by id.
func (h *Handler) RevokeSession(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	sessionID := c.Params("id")

	sessions, err := h.Sessions.ListActive(c.Context(), userID)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		return fiber.ErrInternalServerError
	}

	var target *models.Session
	for i := range sessions {
		if sessions[i].ID == sessionID {
			target = &sessions[i]
			break
		}
	}
	if target == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	if err := h.Sessions.Revoke(c.Context(), target.SessionToken); err != nil {
		slog.Error("Failed to revoke session", "error", err, "session_id", sessionID)
		return fiber.ErrInternalServerError
	}

	current := target.SessionToken == middleware.SessionToken(c)
	if current {
		h.setSessionCookie(c, "", time.Now().Add(-1*time.Hour))
	}

	slog.Info("Session revoked", "user_id", userID, "session_id", sessionID, "current", current)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Session revoked",
		"current": current,
	})
}

// RevokeOtherSessions implements "log out other devices".
func (h *Handler) RevokeOtherSessions(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	n, err := h.Sessions.RevokeAllExceptCurrent(c.Context(), userID, middleware.SessionToken(c))
	if err != nil {
		return fiber.ErrInternalServerError
	}

	if n > 0 {
		h.Notifications.Notify(c.Context(), userID, models.NotificationSessionsRevoked,
			"Signed out of other devices", "", map[string]interface{}{"revoked": n})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"revoked": n,
	})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword replaces the password and signs out every other session.
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	var req ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	userID := middleware.UserID(c)
	err := h.Users.ChangePassword(c.Context(), userID, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Current password is incorrect",
		})
	case errors.Is(err, services.ErrInvalidUser):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		slog.Error("Failed to change password", "error", err, "user_id", userID)
		return fiber.ErrInternalServerError
	}

	n, err := h.Sessions.RevokeAllExceptCurrent(c.Context(), userID, middleware.SessionToken(c))
	if err != nil {
		return fiber.ErrInternalServerError
	}

	h.Notifications.Notify(c.Context(), userID, models.NotificationSessionsRevoked,
		"Password changed", "Other devices have been signed out.",
		map[string]interface{}{"revoked": n})

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Password changed",
		"revoked": n,
	})
}
