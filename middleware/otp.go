package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// OTP rejects sessions that signed in with a password but have not passed
// the second factor yet.
func OTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := Claims(c)
		if claims == nil {
			return fail(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
		}
		if claims.Otp {
			return fail(c, fiber.StatusBadRequest, "2FA required")
		}
		return c.Next()
	}
}
