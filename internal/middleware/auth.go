package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/bondsnbeyond/internal/models"
	"github.com/example/bondsnbeyond/internal/services"
)

// SessionCookie is the name of the browser session cookie.
const SessionCookie = "session"

const (
	userContextKey    = "currentUserID"
	sessionContextKey = "currentSession"
)

// AuthMiddleware resolves the session cookie or a bearer token and loads the session into context.
func AuthMiddleware(sessions *services.SessionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := resolve(c, sessions)
		if err != nil {
			return err
		}

		c.Locals(userContextKey, session.UserID)
		c.Locals(sessionContextKey, session)
		return c.Next()
	}
}

func resolve(c *fiber.Ctx, sessions *services.SessionService) (*models.Session, error) {
	if token := c.Cookies(SessionCookie); token != "" {
		return sessions.Resolve(c.UserContext(), token)
	}

	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "not signed in")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
	}

	return sessions.ResolveAccessToken(c.UserContext(), parts[1])
}

// RequireRole rejects sessions whose role is not one of roles. It must run after AuthMiddleware.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, ok := GetCurrentSession(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "not signed in")
		}
		for _, role := range roles {
			if session.Role == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "insufficient permissions")
	}
}

// GetCurrentUserID extracts the authenticated user ID from context.
func GetCurrentUserID(c *fiber.Ctx) (uuid.UUID, bool) {
	value := c.Locals(userContextKey)
	if value == nil {
		return uuid.Nil, false
	}

	if id, ok := value.(uuid.UUID); ok {
		return id, true
	}

	return uuid.Nil, false
}

// GetCurrentSession returns the session loaded by AuthMiddleware.
func GetCurrentSession(c *fiber.Ctx) (*models.Session, bool) {
	session, ok := c.Locals(sessionContextKey).(*models.Session)
	return session, ok && session != nil
}
