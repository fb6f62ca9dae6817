package admin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"syncbridge/internal/engine"
	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
)

type mappingInput struct {
	SourceType  string `json:"source_type"`
	LocalType   string `json:"local_type"`
	Active      *bool  `json:"active"`
	Description string `json:"description"`
}

func (in mappingInput) mapping() *metadata.TypeMapping {
	return &metadata.TypeMapping{
		SourceType:  strings.TrimSpace(in.SourceType),
		LocalType:   strings.TrimSpace(in.LocalType),
		Active:      in.Active == nil || *in.Active,
		Description: in.Description,
	}
}

// ListTypeMappings returns stored mappings, inactive ones included.
func (h *Handler) ListTypeMappings(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.UserContext(), h.store.DB,
		"SELECT id, source_type, local_type, active, description, created_at, updated_at FROM _type_mappings ORDER BY source_type")
	if err != nil {
		return fmt.Errorf("list type mappings: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, "active")
	}
	return c.JSON(fiber.Map{"data": rows})
}

func (h *Handler) CreateTypeMapping(c *fiber.Ctx) error {
	var in mappingInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	m := in.mapping()
	if err := h.validateMapping(m); err != nil {
		return err
	}
	m.ID = store.GenerateUUID()

	pb := h.store.Dialect.NewParamBuilder()
	_, err := store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("INSERT INTO _type_mappings (id, source_type, local_type, active, description) VALUES (%s, %s, %s, %s, %s)",
			pb.Add(m.ID), pb.Add(m.SourceType), pb.Add(m.LocalType), pb.Add(m.Active), pb.Add(m.Description)),
		pb.Params()...)
	if err != nil {
		err = store.MapError(h.store.Dialect, err)
		if errors.Is(err, store.ErrUniqueViolation) {
			return engine.ConflictError("Type mapping already exists for "+m.SourceType, err)
		}
		return fmt.Errorf("insert type mapping: %w", err)
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": m})
}

func (h *Handler) UpdateTypeMapping(c *fiber.Ctx) error {
	id := c.Params("id")
	var in mappingInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	m := in.mapping()
	if err := h.validateMapping(m); err != nil {
		return err
	}
	m.ID = id

	pb := h.store.Dialect.NewParamBuilder()
	n, err := store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("UPDATE _type_mappings SET source_type = %s, local_type = %s, active = %s, description = %s, updated_at = %s WHERE id = %s",
			pb.Add(m.SourceType), pb.Add(m.LocalType), pb.Add(m.Active), pb.Add(m.Description), h.store.Dialect.NowExpr(), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		err = store.MapError(h.store.Dialect, err)
		if errors.Is(err, store.ErrUniqueViolation) {
			return engine.ConflictError("Type mapping already exists for "+m.SourceType, err)
		}
		return fmt.Errorf("update type mapping: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("type mapping", id)
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": m})
}

func (h *Handler) DeleteTypeMapping(c *fiber.Ctx) error {
	id := c.Params("id")
	pb := h.store.Dialect.NewParamBuilder()
	n, err := store.Exec(c.UserContext(), h.store.DB, "DELETE FROM _type_mappings WHERE id = "+pb.Add(id), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete type mapping: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("type mapping", id)
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

// validateMapping requires both names and a local type the registry knows,
// otherwise the receiver would silently fall through to other lookups.
func (h *Handler) validateMapping(m *metadata.TypeMapping) error {
	var details []engine.ErrorDetail
	if m.SourceType == "" {
		details = append(details, engine.ErrorDetail{Field: "source_type", Rule: "required", Message: "source_type is required"})
	}
	if m.LocalType == "" {
		details = append(details, engine.ErrorDetail{Field: "local_type", Rule: "required", Message: "local_type is required"})
	} else if h.registry.FindEntity(m.LocalType) == nil {
		details = append(details, engine.ErrorDetail{Field: "local_type", Rule: "exists", Message: "unknown local type " + m.LocalType})
	}
	if len(details) > 0 {
		return engine.ValidationError(details)
	}
	return nil
}
