package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/gofiber/fiber/v2"

	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	hooks    HookFactory
}

// NewHandler creates the dynamic entity handler. hooks may be nil.
func NewHandler(s *store.Store, reg *metadata.Registry, hooks HookFactory) *Handler {
	return &Handler{store: s, registry: reg, hooks: hooks}
}

func (h *Handler) newUnitOfWork() *UnitOfWork {
	var opts []Option
	if h.hooks != nil {
		opts = append(opts, WithHooks(h.hooks()...))
	}
	return NewUnitOfWork(h.store, h.registry, opts...)
}

// List handles GET /api/:entity
func (h *Handler) List(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	plan, err := ParseListParams(c, entity)
	if err != nil {
		return err
	}

	sel, count, err := BuildListSQL(h.store.Dialect, plan)
	if err != nil {
		return err
	}
	rows, err := store.QueryRows(c.Context(), h.store.DB, sel.SQL, sel.Params...)
	if err != nil {
		return fmt.Errorf("list %s: %w", entity.Name, err)
	}
	countRow, err := store.QueryRow(c.Context(), h.store.DB, count.SQL, count.Params...)
	if err != nil {
		return fmt.Errorf("count %s: %w", entity.Name, err)
	}

	data := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		o := &Object{Entity: entity, values: rowToValues(entity, row)}
		data = append(data, RecordMap(o))
	}

	return c.JSON(fiber.Map{
		"data": data,
		"meta": fiber.Map{
			"page":     plan.Page,
			"per_page": plan.PerPage,
			"total":    countRow["count"],
		},
	})
}

// GetByID handles GET /api/:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	id := c.Params("id")
	o, err := h.load(c, h.newUnitOfWork(), entity, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": RecordMap(o)})
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	body, err := decodeBody(c.Body())
	if err != nil {
		return respondError(c, InvalidPayloadError("Invalid JSON body"))
	}

	uow := h.newUnitOfWork()
	o, details := newFromBody(uow, entity, body)
	if len(details) > 0 {
		return respondError(c, ValidationError(details))
	}
	if err := uow.Commit(c.Context()); err != nil {
		return handleWriteError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"data": RecordMap(o)})
}

// Update handles PUT /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	body, err := decodeBody(c.Body())
	if err != nil {
		return respondError(c, InvalidPayloadError("Invalid JSON body"))
	}

	uow := h.newUnitOfWork()
	o, err := h.load(c, uow, entity, c.Params("id"))
	if err != nil {
		return err
	}
	if details := applyBody(o, body, false); len(details) > 0 {
		return respondError(c, ValidationError(details))
	}
	if err := uow.Commit(c.Context()); err != nil {
		return handleWriteError(c, err)
	}
	return c.JSON(fiber.Map{"data": RecordMap(o)})
}

// Delete handles DELETE /api/:entity/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	id := c.Params("id")
	uow := h.newUnitOfWork()
	o, err := h.load(c, uow, entity, id)
	if err != nil {
		return err
	}
	uow.Delete(o)
	if err := uow.Commit(c.Context()); err != nil {
		return handleWriteError(c, err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

// CommitOperationRequest is one step of a POST /api/_commit batch.
type CommitOperationRequest struct {
	Action string         `json:"action"` // create, update, delete
	Entity string         `json:"entity"`
	ID     string         `json:"id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Commit handles POST /api/_commit: several writes applied as one unit of
// work, so trigger rules see them as one change set.
func (h *Handler) Commit(c *fiber.Ctx) error {
	var req struct {
		Operations []CommitOperationRequest `json:"operations"`
	}
	dec := json.NewDecoder(bytes.NewReader(c.Body()))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return respondError(c, InvalidPayloadError("Invalid JSON body"))
	}
	if len(req.Operations) == 0 {
		return respondError(c, InvalidPayloadError("operations are required"))
	}

	uow := h.newUnitOfWork()
	results := make([]func() fiber.Map, 0, len(req.Operations))
	for i, op := range req.Operations {
		entity := h.registry.GetEntity(op.Entity)
		if entity == nil {
			return respondError(c, UnknownEntityError(op.Entity))
		}

		switch op.Action {
		case "create":
			o, details := newFromBody(uow, entity, op.Data)
			if len(details) > 0 {
				return respondError(c, ValidationError(prefixDetails(i, details)))
			}
			results = append(results, func() fiber.Map { return fiber.Map{"action": "create", "data": RecordMap(o)} })

		case "update", "delete":
			o, err := h.load(c, uow, entity, op.ID)
			if err != nil {
				return err
			}
			if op.Action == "delete" {
				uow.Delete(o)
				id := op.ID
				results = append(results, func() fiber.Map { return fiber.Map{"action": "delete", "data": fiber.Map{"id": id}} })
				continue
			}
			if details := applyBody(o, op.Data, false); len(details) > 0 {
				return respondError(c, ValidationError(prefixDetails(i, details)))
			}
			results = append(results, func() fiber.Map { return fiber.Map{"action": "update", "data": RecordMap(o)} })

		default:
			return respondError(c, InvalidPayloadError(fmt.Sprintf("operations[%d]: unknown action %q", i, op.Action)))
		}
	}

	if err := uow.Commit(c.Context()); err != nil {
		return handleWriteError(c, err)
	}

	data := make([]fiber.Map, len(results))
	for i, r := range results {
		data[i] = r()
	}
	return c.JSON(fiber.Map{"data": data})
}

func (h *Handler) load(c *fiber.Ctx, uow *UnitOfWork, entity *metadata.Entity, id string) (*Object, error) {
	key, err := ParseKey(entity, id)
	if err != nil {
		return nil, NotFoundError(entity.Name, id)
	}
	o, err := uow.Get(c.Context(), entity, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError(entity.Name, id)
		}
		return nil, fmt.Errorf("get %s/%s: %w", entity.Name, id, err)
	}
	return o, nil
}

func (h *Handler) resolveEntity(c *fiber.Ctx) (*metadata.Entity, error) {
	name := c.Params("entity")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return nil, UnknownEntityError(name)
	}
	return entity, nil
}

func newFromBody(uow *UnitOfWork, entity *metadata.Entity, body map[string]any) (*Object, []ErrorDetail) {
	var o *Object
	if raw, ok := body[entity.PrimaryKey.Field]; ok && raw != nil {
		key, err := NormalizeValue(entity.GetField(entity.PrimaryKey.Field), raw)
		if err != nil {
			return nil, []ErrorDetail{{Field: entity.PrimaryKey.Field, Rule: "type", Message: err.Error()}}
		}
		o = uow.NewWithKey(entity, key)
	} else {
		o = uow.New(entity)
	}
	return o, applyBody(o, body, true)
}

// applyBody assigns request fields to the object. The key and internal
// bookkeeping fields are not writable.
func applyBody(o *Object, body map[string]any, isCreate bool) []ErrorDetail {
	names := make([]string, 0, len(body))
	for k := range body {
		names = append(names, k)
	}
	sort.Strings(names)

	var errs []ErrorDetail
	for _, name := range names {
		if o.Entity.IsKey(name) {
			if !isCreate {
				errs = append(errs, ErrorDetail{Field: name, Rule: "immutable", Message: "primary key cannot be changed"})
			}
			continue
		}
		f := o.Entity.GetField(name)
		if f == nil || f.Internal {
			errs = append(errs, ErrorDetail{Field: name, Rule: "unknown", Message: fmt.Sprintf("Unknown field: %s", name)})
			continue
		}
		v, err := NormalizeValue(f, body[name])
		if err != nil {
			errs = append(errs, ErrorDetail{Field: name, Rule: "type", Message: err.Error()})
			continue
		}
		o.Set(name, v)
	}
	return errs
}

func prefixDetails(i int, details []ErrorDetail) []ErrorDetail {
	for j := range details {
		details[j].Message = fmt.Sprintf("operations[%d]: %s", i, details[j].Message)
	}
	return details
}

func decodeBody(raw []byte) (map[string]any, error) {
	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("body must be an object")
	}
	return body, nil
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}

// ErrorHandler is the fiber error handler. AppErrors keep their status and
// envelope; anything else is logged and reported as an internal error.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		return c.Status(code).JSON(ErrorResponse{Error: &AppError{Code: "HTTP_ERROR", Message: fiberErr.Message}})
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(ErrorResponse{
		Error: &AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}

func handleWriteError(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return respondError(c, appErr)
	}
	return err
}
