package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"cubis-academy/models"
	"cubis-academy/services"
)

// Locals keys set by RequireAuth and RequirePage.
const (
	LocalUserID       = "user_id"
	LocalEmail        = "email"
	LocalRole         = "role"
	LocalSessionToken = "session_token"
)

// SessionValidator checks a session token.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (services.ValidationResult, error)
}

// Auth guards routes with the session cookie.
type Auth struct {
	sessions   SessionValidator
	users      services.UserDirectory
	cookieName string
}

func NewAuth(sessions SessionValidator, users services.UserDirectory, cookieName string) *Auth {
	return &Auth{sessions: sessions, users: users, cookieName: cookieName}
}

// authenticate validates the request's session and resolves its owner. A nil
// user with a nil error means the session is invalid for the returned reason;
// a non-nil error means the store could not answer.
func (a *Auth) authenticate(c *fiber.Ctx) (*models.User, string, error) {
	token := c.Cookies(a.cookieName)
	if token == "" {
		return nil, services.ReasonNotFound, nil
	}

	result, err := a.sessions.Validate(c.Context(), token)
	if err != nil {
		return nil, "", err
	}
	if !result.Valid {
		return nil, result.Reason, nil
	}

	user := result.User
	if user == nil {
		user, err = a.users.FindByID(c.Context(), result.UserID)
		if errors.Is(err, services.ErrUserNotFound) {
			return nil, services.ReasonUserNotFound, nil
		} else if err != nil {
			return nil, "", err
		}
	}

	c.Locals(LocalUserID, user.ID)
	c.Locals(LocalEmail, user.Email)
	c.Locals(LocalRole, string(user.Role))
	c.Locals(LocalSessionToken, token)
	return user, "", nil
}

// RequireAuth rejects API requests without a valid session with 401 and the
// validation reason.
func (a *Auth) RequireAuth(c *fiber.Ctx) error {
	user, reason, err := a.authenticate(c)
	if err != nil {
		slog.Error("Failed to validate session", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Session store unavailable",
		})
	}
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":  "Authentication required",
			"reason": reason,
		})
	}
	return c.Next()
}

// RequireRole must run after RequireAuth.
func RequireRole(roles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roleStr, ok := c.Locals(LocalRole).(string)
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Access denied",
			})
		}

		currentRole := models.UserRole(roleStr)
		for _, allowedRole := range roles {
			if currentRole == allowedRole {
				return c.Next()
			}
		}

		slog.Info("Access denied", "user_role", currentRole, "required_roles", roles)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Insufficient permissions",
		})
	}
}

// UserID returns the authenticated user id.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// SessionToken returns the token of the authenticated session.
func SessionToken(c *fiber.Ctx) string {
	token, _ := c.Locals(LocalSessionToken).(string)
	return token
}
