package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"cubis-academy/middleware"
	"cubis-academy/models"
	"cubis-academy/services"
)

type CreateUserRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// CreateUser handles the creation of a new user
func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
	}

	user, err := h.Users.Create(c.Context(), services.CreateUserInput{
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
		Role:     models.UserRole(req.Role),
	})
	switch {
	case errors.Is(err, services.ErrEmailTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "User already exists with this email",
		})
	case errors.Is(err, services.ErrInvalidUser):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
			"valid_roles": []string{
				string(models.RoleAdmin),
				string(models.RoleTeacher),
				string(models.RoleStudent),
			},
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create user",
		})
	}

	slog.Info("User created by admin", "user_id", user.ID, "admin_id", middleware.UserID(c))
	return c.Status(fiber.StatusCreated).JSON(user)
}

// RevokeUserSessions signs a user out everywhere.
func (h *Handler) RevokeUserSessions(c *fiber.Ctx) error {
	userID := c.Params("userID")
	n, err := h.Sessions.RevokeAll(c.Context(), userID)
	if err != nil {
		return fiber.ErrInternalServerError
	}

	if n > 0 {
		h.Notifications.Notify(c.Context(), userID, models.NotificationSessionsRevoked,
			"Signed out by an administrator", "", map[string]interface{}{"revoked": n})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"revoked": n,
	})
}

// SweepSessions runs one expiry sweep on demand.
func (h *Handler) SweepSessions(c *fiber.Ctx) error {
	n, err := services.RunSweep(c.Context(), slog.Default(), h.Sessions, h.Purgers...)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"swept": n,
	})
}

func (h *Handler) GetStats(c *fiber.Ctx) error {
	stats, err := h.Analytics.SessionStats(c.Context())
	if err != nil {
		slog.Error("Failed to compute session stats", "error", err)
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

type SetActiveRequest struct {
	Active *bool `json:"active"`
}

// SetUserActive enables or disables an account. Disabling also revokes every
// session of the user.
func (h *Handler) SetUserActive(c *fiber.Ctx) error {
	var req SetActiveRequest
	if err := c.BodyParser(&req); err != nil || req.Active == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "active is required",
		})
	}

	userID := c.Params("userID")
	err := h.Users.SetActive(c.Context(), userID, *req.Active)
	if errors.Is(err, services.ErrUserNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	} else if err != nil {
		slog.Error("Failed to update user", "error", err, "user_id", userID)
		return fiber.ErrInternalServerError
	}

	var revoked int64
	if !*req.Active {
		revoked, err = h.Sessions.RevokeAll(c.Context(), userID)
		if err != nil {
			return fiber.ErrInternalServerError
		}
	}

	slog.Info("User active flag updated", "user_id", userID, "active", *req.Active, "admin_id", middleware.UserID(c))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"user_id": userID,
		"active":  *req.Active,
		"revoked": revoked,
	})
}
