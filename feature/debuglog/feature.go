package debuglog

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature wires the debug snapshot service and handler into the loader.
type Feature struct {
	service *Service
	handler *Handler
}

// NewFeature creates the debuglog feature.
func NewFeature(logger *zap.Logger) *Feature {
	service := NewService(logger)
	return &Feature{
		service: service,
		handler: NewHandler(service),
	}
}

// Name returns the unique feature name.
func (f *Feature) Name() string {
	return "debuglog"
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
