package middleware

import (
	"log/slog"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"cubis-academy/services"
)

// RedirectFor maps a validation failure to the page the browser is sent to.
// Sessions that still carry a cookie worth clearing go through /logout.
func RedirectFor(reason string) string {
	switch reason {
	case services.ReasonInactive, services.ReasonExpired, services.ReasonUserInactive:
		return "/logout?reason=" + url.QueryEscape(reason)
	default:
		return "/login?reason=" + url.QueryEscape(reason)
	}
}

// RequirePage guards server-rendered pages. Invalid sessions are redirected
// instead of receiving a JSON error.
func (a *Auth) RequirePage(c *fiber.Ctx) error {
	user, reason, err := a.authenticate(c)
	if err != nil {
		slog.Error("Failed to validate session for page", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusServiceUnavailable).SendString("Service temporarily unavailable")
	}
	if user == nil {
		slog.Info("Redirecting unauthenticated page request", "path", c.Path(), "reason", reason)
		return c.Redirect(RedirectFor(reason), fiber.StatusFound)
	}
	return c.Next()
}
