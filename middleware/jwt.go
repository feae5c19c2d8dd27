package middleware

import (
	"errors"

	"uplink-service/session"
	"uplink-service/utils"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ClaimsKey is the Locals key holding *utils.TokenMetadata after JWT.
const ClaimsKey = "claims"

// JWT checks the HS512 access token and puts the caller's session on the
// request's user context.
func JWT(key []byte) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: "HS512",
			Key:    key,
		},
		SuccessHandler: func(c *fiber.Ctx) error {
			token, ok := c.Locals("user").(*jwt.Token)
			if !ok {
				return fail(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return fail(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
			}
			meta, err := utils.MetadataFromClaims(claims)
			if err != nil {
				return fail(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
			}

			c.Locals(ClaimsKey, meta)
			c.SetUserContext(session.For(c.UserContext(), meta.Id, meta.Role))
			return c.Next()
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				return fail(c, fiber.StatusBadRequest, "Missing or malformed JWT")
			}
			return fail(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
		},
	})
}

// Claims returns the token metadata stored by JWT.
func Claims(c *fiber.Ctx) *utils.TokenMetadata {
	meta, _ := c.Locals(ClaimsKey).(*utils.TokenMetadata)
	return meta
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
		"data":    nil,
	})
}
