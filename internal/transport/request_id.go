package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/taskflow/internal/observability"
)

const localRequestID = "requestid"

// RequestID assigns every request an id, honouring an incoming
// X-Request-ID, echoes it back and stores it in the user context so
// services can tag logs and queue messages with it.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(fiber.HeaderXRequestID, id)
		c.Locals(localRequestID, id)
		c.SetUserContext(observability.WithRequestID(c.UserContext(), id))
		return c.Next()
	}
}
