package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"cubis-academy/middleware"
	"cubis-academy/models"
	"cubis-academy/services"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
	Location string `json:"location"`
}

type LoginResponse struct {
	Message string          `json:"message"`
	User    *models.User    `json:"user"`
	Session *models.Session `json:"session"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	if !h.Limiter.Allow(c.IP()) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Too many login attempts, try again later",
		})
	}

	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Email and password are required",
		})
	}

	user, err := h.Users.Authenticate(c.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	case errors.Is(err, services.ErrUserInactive):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Account is disabled",
		})
	case err != nil:
		slog.Error("Failed to authenticate user", "error", err)
		return fiber.ErrInternalServerError
	}

	token, err := services.GenerateSessionToken()
	if err != nil {
		slog.Error("Failed to generate session token", "error", err)
		return fiber.ErrInternalServerError
	}

	session, err := h.Sessions.Create(c.Context(), services.CreateSessionInput{
		UserID:       user.ID,
		SessionToken: token,
		DeviceID:     req.DeviceID,
		IPAddress:    c.IP(),
		UserAgent:    c.Get(fiber.HeaderUserAgent),
		Location:     req.Location,
		LoginMethod:  "credentials",
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}

	h.setSessionCookie(c, token, session.ExpiresAt)

	if err := h.Users.TouchLastLogin(c.Context(), user.ID); err != nil {
		slog.Error("Failed to update last login", "error", err)
	}

	h.Notifications.Notify(c.Context(), user.ID, models.NotificationNewSignIn,
		"New sign-in", describeDevice(session),
		map[string]interface{}{
			"session_id": session.ID,
			"ip_address": session.IPAddress,
			"device":     session.Device,
			"browser":    session.Browser,
			"os":         session.OS,
		})

	slog.Info("User logged in", "user_id", user.ID, "session_id", session.ID)

	return c.Status(fiber.StatusOK).JSON(LoginResponse{
		Message: "Login successful",
		User:    user,
		Session: session,
	})
}

// Logout revokes the current session and clears the cookie. It always
// succeeds from the client's point of view.
func (h *Handler) Logout(c *fiber.Ctx) error {
	h.endSession(c)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Logged out successfully",
	})
}

// LogoutPage is the browser variant of Logout used by page redirects.
func (h *Handler) LogoutPage(c *fiber.Ctx) error {
	h.endSession(c)
	target := "/login"
	if reason := c.Query("reason"); reason != "" {
		target += "?reason=" + url.QueryEscape(reason)
	}
	return c.Redirect(target, fiber.StatusFound)
}

func (h *Handler) GetCurrentUser(c *fiber.Ctx) error {
	user, err := h.Users.FindByID(c.Context(), middleware.UserID(c))
	if err != nil {
		slog.Error("Failed to get user", "error", err, "user_id", middleware.UserID(c))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get user information",
		})
	}
	return c.Status(fiber.StatusOK).JSON(user)
}

func (h *Handler) CheckSession(c *fiber.Ctx) error {
	token := c.Cookies(h.CookieName)
	if token == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"authenticated": false,
			"reason":        services.ReasonNotFound,
		})
	}

	result, err := h.Sessions.Validate(c.Context(), token)
	if err != nil {
		slog.Error("Failed to validate session", "error", err)
		return fiber.ErrServiceUnavailable
	}
	if !result.Valid {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"authenticated": false,
			"reason":        result.Reason,
		})
	}

	user := result.User
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"authenticated": true,
		"user_id":       user.ID,
		"email":         user.Email,
		"full_name":     user.FullName,
		"role":          user.Role,
	})
}

func (h *Handler) endSession(c *fiber.Ctx) {
	token := c.Cookies(h.CookieName)
	if token != "" {
		if err := h.Sessions.Revoke(c.Context(), token); err != nil {
			slog.Error("Failed to revoke session", "error", err)
		}
	}
	h.setSessionCookie(c, "", time.Now().Add(-1*time.Hour))
	slog.Info("User logged out", "had_session", token != "")
}

// setSessionCookie writes the session cookie. Cross-origin callers need
// SameSite=None, which browsers only accept on secure cookies.
func (h *Handler) setSessionCookie(c *fiber.Ctx, value string, expires time.Time) {
	origin := c.Get("Origin", "")
	isCrossOrigin := origin != "" && !strings.HasPrefix(origin, "http://"+c.Hostname()) && !strings.HasPrefix(origin, "https://"+c.Hostname())

	sameSite := fiber.CookieSameSiteLaxMode
	secure := h.CookieSecure
	if isCrossOrigin {
		sameSite = fiber.CookieSameSiteNoneMode
		secure = true
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.CookieName,
		Value:    value,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		Path:     "/",
	})
}

func describeDevice(s *models.Session) string {
	switch {
	case s.Browser != "" && s.OS != "":
		return fmt.Sprintf("%s on %s", s.Browser, s.OS)
	case s.Browser != "":
		return s.Browser
	default:
		return "Unknown device"
	}
}
