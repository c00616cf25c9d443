package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	localUserID    = "auth.userId"
	localSessionID = "auth.sessionId"
)

// RequireAccessToken rejects requests without a valid Bearer access token
// and exposes the authenticated user id to downstream handlers.
func RequireAccessToken(tokens *TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return Unauthorized(c, ErrUnauthorized)
		}

		claims, err := tokens.ParseAccessToken(raw)
		if err != nil {
			return Unauthorized(c, ErrUnauthorized)
		}

		c.Locals(localUserID, claims.Subject)
		c.Locals(localSessionID, claims.ID)
		return c.Next()
	}
}

// UserID returns the authenticated user id set by RequireAccessToken.
func UserID(c *fiber.Ctx) (string, bool) {
	userID, ok := c.Locals(localUserID).(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

// Unauthorized writes the 401 body shared by every auth failure.
func Unauthorized(c *fiber.Ctx, err *Error) error {
	if err == nil {
		err = ErrUnauthorized
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": err.Message,
		"code":  err.Code,
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
