package handlers

import (
	"cubis-academy/services"
)

// Handler holds the services behind the HTTP routes.
type Handler struct {
	Sessions      *services.SessionManager
	Users         *services.UserService
	Notifications *services.NotificationService
	Hub           *services.Hub
	Analytics     *services.Analytics
	Limiter       *services.LoginLimiter
	Purgers       []services.Purger // run alongside on-demand sweeps

	CookieName   string
	CookieSecure bool
	CacheBackend string
}
