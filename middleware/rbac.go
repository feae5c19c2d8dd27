package middleware

import (
	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
)

// RBAC enforces the role policy on the request path and method.
func RBAC(enforcer casbin.IEnforcer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := Claims(c)
		if claims == nil {
			return fail(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
		}

		accepted, err := enforcer.Enforce(claims.Role, c.Path(), c.Method())
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, "Internal server error")
		}
		if !accepted {
			return fail(c, fiber.StatusForbidden, "Unauthorized")
		}

		return c.Next()
	}
}
