package receiver

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"syncbridge/internal/wire"
)

type Handler struct {
	reconciler *Reconciler
}

func NewHandler(r *Reconciler) *Handler {
	return &Handler{reconciler: r}
}

// BatchItemResult is one entry of a batch response.
type BatchItemResult struct {
	ObjectKey  string `json:"objectKey"`
	ObjectType string `json:"objectType"`
	EventType  string `json:"eventType"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

// RegisterRoutes mounts the receiver at /api/sync and its /api/mirror alias.
// Health is public; everything else goes through auth.
func RegisterRoutes(app *fiber.App, h *Handler, auth ...fiber.Handler) {
	for _, prefix := range []string{"/api/sync", "/api/mirror"} {
		app.Get(prefix+"/health", h.Health)

		handlers := append(append([]fiber.Handler{}, auth...), h.Sync)
		app.Post(prefix, handlers...)

		handlers = append(append([]fiber.Handler{}, auth...), h.Batch)
		app.Post(prefix+"/batch", handlers...)
	}
}

// Sync handles POST /api/sync
func (h *Handler) Sync(c *fiber.Ctx) error {
	p, err := wire.Parse(c.Body())
	if err != nil {
		if errors.Is(err, wire.ErrEmptyPayload) {
			return c.Status(fiber.StatusBadRequest).JSON(Result{Message: "Payload is required."})
		}
		return c.Status(fiber.StatusBadRequest).JSON(Result{Message: "Invalid payload: " + err.Error()})
	}

	res := h.reconciler.Apply(c.Context(), p)
	status := fiber.StatusOK
	if !res.Success {
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(res)
}

// Batch handles POST /api/sync/batch. Items are applied in order and each
// outcome is independent of the others.
func (h *Handler) Batch(c *fiber.Ctx) error {
	items, err := wire.ParseBatch(c.Body())
	if err != nil {
		if errors.Is(err, wire.ErrEmptyPayload) {
			return c.Status(fiber.StatusBadRequest).JSON(Result{Message: "Payloads are required."})
		}
		return c.Status(fiber.StatusBadRequest).JSON(Result{Message: "Invalid payload: " + err.Error()})
	}

	results := make([]BatchItemResult, 0, len(items))
	allOK := true
	for _, raw := range items {
		item := h.applyItem(c, raw)
		allOK = allOK && item.Success
		results = append(results, item)
	}

	return c.JSON(fiber.Map{
		"success": allOK,
		"results": results,
	})
}

func (h *Handler) applyItem(c *fiber.Ctx, raw json.RawMessage) BatchItemResult {
	p, err := wire.Decode(raw)
	if err != nil {
		return BatchItemResult{Message: "Invalid payload: " + err.Error()}
	}
	item := BatchItemResult{ObjectKey: p.ObjectKey, ObjectType: p.ObjectType, EventType: p.EventType}
	if err := wire.Validate(p); err != nil {
		item.Message = "Invalid payload: " + err.Error()
		return item
	}
	res := h.reconciler.Apply(c.Context(), p)
	item.EventType = p.EventType
	item.Success = res.Success
	item.Message = res.Message
	return item
}

// Health handles GET /api/sync/health
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
