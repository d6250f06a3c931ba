package cache

import (
	"bytes"
	"errors"

	"remote-cache/core/backing"
	"remote-cache/core/index"
	"remote-cache/core/logger"
	"remote-cache/core/refresh"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the cache.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the cache routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get("/health", h.HandleHealth)
	app.Get("/exists", h.HandleExists)
	app.Post("/exists_batch", h.HandleExistsBatch)
	app.Get("/lookup", h.HandleLookup)
	app.Get("/get", h.HandleGet)
	app.Post("/put", h.HandlePut)
	app.Post("/refresh", h.HandleRefresh)
	app.Get("/refresh/status", h.HandleRefreshStatus)
}

// HandleHealth returns index and server statistics.
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	stats, err := h.service.HealthStats(c.Context())
	if err != nil {
		l := logger.WithRayID(h.service.logger, c)
		l.Error("Health stats failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"stats":  stats,
	})
}

// HandleExists checks existence of a single key against the index.
func (h *Handler) HandleExists(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing key parameter"})
	}
	exists, err := h.service.Exists(c.Context(), key)
	if err != nil {
		l := logger.WithRayID(h.service.logger, c)
		l.Error("Exists check failed", zap.String("key", key), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"key": key, "exists": exists})
}

type existsBatchRequest struct {
	Keys []string `json:"keys"`
}

// HandleExistsBatch checks existence of up to the configured cap of keys.
func (h *Handler) HandleExistsBatch(c *fiber.Ctx) error {
	var req existsBatchRequest
	if err := c.BodyParser(&req); err != nil || req.Keys == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing keys field"})
	}
	results, err := h.service.ExistsBatch(c.Context(), req.Keys)
	if err != nil {
		if errors.Is(err, index.ErrTooManyKeys) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
				"limit": h.service.BatchLimit(),
			})
		}
		l := logger.WithRayID(h.service.logger, c)
		l.Error("Batch exists check failed", zap.Int("keys", len(req.Keys)), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"results": results})
}

// HandleLookup returns the metadata entry for a key.
func (h *Handler) HandleLookup(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing key parameter"})
	}
	entry, err := h.service.Lookup(c.Context(), key)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "key not found", "key": key})
		}
		l := logger.WithRayID(h.service.logger, c)
		l.Error("Lookup failed", zap.String("key", key), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(entry)
}

// HandleGet streams entry content from the backing store.
func (h *Handler) HandleGet(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing key parameter"})
	}
	rc, info, err := h.service.Download(c.Context(), key)
	if err != nil {
		if errors.Is(err, backing.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "key not found", "key": key})
		}
		l := logger.WithRayID(h.service.logger, c)
		l.Error("Download failed", zap.String("key", key), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set(fiber.HeaderContentType, "application/octet-stream")
	return c.SendStream(rc, int(info.Size))
}

// HandlePut stores entry content and records it in the index.
func (h *Handler) HandlePut(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing key parameter"})
	}
	body := c.Body()
	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty body"})
	}
	if err := h.service.Upload(c.Context(), key, bytes.NewReader(body), int64(len(body))); err != nil {
		l := logger.WithRayID(h.service.logger, c)
		l.Error("Upload failed", zap.String("key", key), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok", "key": key, "size": len(body)})
}

// HandleRefresh triggers a reconciliation run.
func (h *Handler) HandleRefresh(c *fiber.Ctx) error {
	mode, ok := refresh.ParseMode(c.Query("mode"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "mode must be auto, full or incremental",
		})
	}
	if err := h.service.TriggerRefresh(mode); err != nil {
		if errors.Is(err, refresh.ErrAlreadyRunning) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":  err.Error(),
				"status": h.service.RefreshStatus(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted", "mode": mode})
}

// HandleRefreshStatus returns the latest refresh status snapshot.
func (h *Handler) HandleRefreshStatus(c *fiber.Ctx) error {
	return c.JSON(h.service.RefreshStatus())
}
