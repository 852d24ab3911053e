package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentarena/api/pkg/response"
)

// GatewayAuthMiddleware trusts the X-User-* headers the gateway sets after
// calling /auth/verify.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		c.Locals("userId", userID)
		c.Locals("email", c.Get("X-User-Email"))
		c.Locals("name", c.Get("X-User-Name"))

		return c.Next()
	}
}
