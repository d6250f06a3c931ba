// Package auth provides API-key authentication middleware.
package auth

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// Config holds configuration for the auth middleware.
type Config struct {
	// ApiKey is the expected key. An empty key disables authentication,
	// which is the default for trusted-LAN deployments.
	ApiKey string
}

// HeaderName carries the API key on requests.
const HeaderName = "X-Api-Key"

// New creates the API-key middleware.
func New(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.ApiKey == "" {
			return c.Next()
		}
		provided := c.Get(HeaderName)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.ApiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or missing api key",
			})
		}
		return c.Next()
	}
}
