package handlers

import (
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cubis-academy/middleware"
	"cubis-academy/models"
)

// ErrorHandler renders errors as {"error": msg}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	slog.Error("Request error", "error", err, "status", code, "path", c.Path())
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// RegisterRoutes mounts every route on app.
func RegisterRoutes(app *fiber.App, h *Handler, auth *middleware.Auth) {
	app.Get("/health", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authGroup := app.Group("/auth")
	authGroup.Post("/login", h.Login)
	authGroup.Post("/logout", h.Logout)
	authGroup.Get("/me", auth.RequireAuth, h.GetCurrentUser)
	authGroup.Get("/check", h.CheckSession)

	// Browser pages
	app.Get("/logout", h.LogoutPage)
	app.Get("/dashboard", auth.RequirePage, h.Dashboard)

	api := app.Group("/api", auth.RequireAuth)

	api.Get("/sessions", h.ListSessions)
	api.Post("/sessions/revoke-others", h.RevokeOtherSessions)
	api.Delete("/sessions/:id", h.RevokeSession)
	api.Post("/account/password", h.ChangePassword)

	api.Get("/notifications", h.ListNotifications)
	api.Post("/notifications/:id/read", h.MarkNotificationRead)
	api.Get("/notifications/ws", h.WebSocketUpgrade, websocket.New(h.HandleWebSocket))

	admin := api.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	admin.Post("/users", h.CreateUser)
	admin.Put("/users/:userID/active", h.SetUserActive)
	admin.Post("/users/:userID/revoke-sessions", h.RevokeUserSessions)
	admin.Post("/sessions/sweep", h.SweepSessions)
	admin.Get("/stats", h.GetStats)
}
