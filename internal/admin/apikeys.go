package admin

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"syncbridge/internal/auth"
	"syncbridge/internal/engine"
	"syncbridge/internal/store"
)

func (h *Handler) ListAPIKeys(c *fiber.Ctx) error {
	keys, err := auth.ListAPIKeys(c.UserContext(), h.store)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": keys})
}

// CreateAPIKey returns the plaintext key. It is not retrievable afterwards.
func (h *Handler) CreateAPIKey(c *fiber.Ctx) error {
	var body struct {
		Name      string     `json:"name"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	key, created, err := auth.CreateAPIKey(c.UserContext(), h.store, body.Name, body.ExpiresAt)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{"key": key, "api_key": created}})
}

func (h *Handler) RevokeAPIKey(c *fiber.Ctx) error {
	id := c.Params("id")
	err := auth.RevokeAPIKey(c.UserContext(), h.store, id)
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFoundError("api key", id)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "revoked": true}})
}
