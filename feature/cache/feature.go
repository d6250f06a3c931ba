package cache

import (
	"remote-cache/core/backing"
	"remote-cache/core/index"
	"remote-cache/core/refresh"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature wires the cache service and handler into the loader.
type Feature struct {
	service *Service
	handler *Handler
}

// NewFeature creates the cache feature.
func NewFeature(idx *index.Store, store backing.Store, coordinator *refresh.Coordinator, logger *zap.Logger) *Feature {
	service := NewService(idx, store, coordinator, logger)
	return &Feature{
		service: service,
		handler: NewHandler(service),
	}
}

// Name returns the unique feature name.
func (f *Feature) Name() string {
	return "cache"
}

// IsEnabled reports whether the feature should be loaded.
func (f *Feature) IsEnabled() bool {
	return true
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}

// Service exposes the engine facade for non-HTTP callers (CLI, startup
// banner).
func (f *Feature) Service() *Service {
	return f.service
}
