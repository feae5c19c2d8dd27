package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// PasswordChecker reports whether a user still has to replace a temporary
// password.
type PasswordChecker interface {
	ForcePasswordChange(ctx context.Context, userID string) (bool, error)
}

// ForcePasswordChange blocks everything except the exempt paths until the
// caller has set a password of their own.
func ForcePasswordChange(checker PasswordChecker, exempt ...string) fiber.Handler {
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}

	return func(c *fiber.Ctx) error {
		claims := Claims(c)
		if claims == nil || skip[c.Path()] {
			return c.Next()
		}

		force, err := checker.ForcePasswordChange(c.UserContext(), claims.Id)
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, "Internal server error")
		}
		if force {
			return fail(c, fiber.StatusForbidden, "password change required")
		}
		return c.Next()
	}
}
