package debuglog

import (
	"errors"

	"remote-cache/core/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for debug snapshots.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the debug routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Post("/debug/log", h.HandlePost)
	app.Get("/debug/log", h.HandleGet)
	app.Get("/debug/log/list", h.HandleList)
	app.Get("/debug/compare", h.HandleCompare)
}

// HandlePost stores a snapshot posted by a machine. The body is JSON and
// must carry a machine field.
func (h *Handler) HandlePost(c *fiber.Ctx) error {
	var payload Snapshot
	if err := c.BodyParser(&payload); err != nil || payload == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	machine, ok := payload["machine"].(string)
	if !ok || machine == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing machine field"})
	}
	h.service.Put(machine, payload)
	l := logger.WithRayID(h.service.logger, c)
	l.Debug("Debug log stored", zap.String("machine", machine))
	return c.JSON(fiber.Map{"status": "ok", "machine": machine})
}

// HandleGet returns the snapshot for one machine, or all of them.
func (h *Handler) HandleGet(c *fiber.Ctx) error {
	machine := c.Query("machine")
	if machine == "" {
		return c.JSON(h.service.All())
	}
	log, err := h.service.Get(machine)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(log)
}

// HandleList lists machines with a stored snapshot.
func (h *Handler) HandleList(c *fiber.Ctx) error {
	machines := h.service.Machines()
	return c.JSON(fiber.Map{"machines": machines, "count": len(machines)})
}

// HandleCompare diffs the snapshots of two machines given as m1 and m2.
// With fewer than two snapshots stored there is nothing to compare.
func (h *Handler) HandleCompare(c *fiber.Ctx) error {
	m1, m2, diffs, err := h.service.Compare(c.Query("m1"), c.Query("m2"))
	if err != nil {
		if errors.Is(err, ErrNoLog) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if diffs == nil {
		diffs = []Diff{}
	}
	return c.JSON(fiber.Map{
		"m1":    m1,
		"m2":    m2,
		"diffs": diffs,
		"match": len(diffs) == 0,
	})
}
