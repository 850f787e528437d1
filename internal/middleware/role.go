package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// RequireRoles gates a route on the role local set by AttachJWTLocals,
// so it must run after it in the chain.
func RequireRoles(allowed ...string) fiber.Handler {
	allowedSet := make(map[string]bool, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = true
	}

	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(string)
		if !allowedSet[role] {
			return fiber.NewError(fiber.StatusForbidden, "Acesso negado.")
		}
		return c.Next()
	}
}
