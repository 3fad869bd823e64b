package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// TriggerKeyAuth guards the report trigger endpoints.
// Expects: Authorization: Bearer <trigger_key>
// An empty key disables the endpoints entirely. key may be a bcrypt hash so
// the plain key never has to sit in the environment.
func TriggerKeyAuth(key string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			logger.Warn("Report trigger called without a configured trigger key",
				slog.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Trigger key not configured. Set INTELREPORT_TRIGGER_KEY.",
			})
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Authorization header",
			})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid Authorization header format. Expected: Bearer <trigger_key>",
			})
		}

		providedKey := strings.TrimPrefix(authHeader, "Bearer ")
		if !keyMatches(providedKey, key) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid trigger key",
			})
		}

		return c.Next()
	}
}

func keyMatches(provided, key string) bool {
	if isBcryptHash(key) {
		return bcrypt.CompareHashAndPassword([]byte(key), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}
