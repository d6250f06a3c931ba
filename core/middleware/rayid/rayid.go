// Package rayid assigns every request a ray id for log correlation.
package rayid

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// HeaderName carries the ray id on responses and trusted inbound requests.
const HeaderName = "X-Ray-ID"

// New creates the ray-id middleware. An inbound X-Ray-ID is reused so call
// chains keep one id; otherwise a fresh UUID is issued.
func New() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid := c.Get(HeaderName)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Locals("ray_id", rid)
		c.Set(HeaderName, rid)
		return c.Next()
	}
}
