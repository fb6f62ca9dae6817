package admin

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"syncbridge/internal/engine"
	"syncbridge/internal/metadata"
	"syncbridge/internal/metrics"
	"syncbridge/internal/store"
	"syncbridge/internal/trigger"
)

type Handler struct {
	store         *store.Store
	registry      *metadata.Registry
	migrator      *store.Migrator
	logs          *trigger.ExecutionLogger
	dispatcher    *trigger.Dispatcher
	metrics       metrics.Sink
	retentionDays int
}

// Options carries the trigger-side collaborators of the admin API.
type Options struct {
	Logs          *trigger.ExecutionLogger
	Dispatcher    *trigger.Dispatcher
	Metrics       metrics.Sink
	RetentionDays int
}

func NewHandler(s *store.Store, reg *metadata.Registry, mig *store.Migrator, opts Options) *Handler {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopSink()
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = trigger.NewDispatcher(trigger.DefaultTimeout)
	}
	if opts.Logs == nil {
		opts.Logs = trigger.NewExecutionLogger(s, opts.Metrics)
	}
	return &Handler{
		store:         s,
		registry:      reg,
		migrator:      mig,
		logs:          opts.Logs,
		dispatcher:    opts.Dispatcher,
		metrics:       opts.Metrics,
		retentionDays: opts.RetentionDays,
	}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/entities", h.ListEntities)
	admin.Get("/entities/:name", h.GetEntity)
	admin.Post("/entities", h.CreateEntity)
	admin.Put("/entities/:name", h.UpdateEntity)
	admin.Delete("/entities/:name", h.DeleteEntity)

	admin.Get("/rules", h.ListRules)
	admin.Get("/rules/:id", h.GetRule)
	admin.Post("/rules", h.CreateRule)
	admin.Put("/rules/:id", h.UpdateRule)
	admin.Delete("/rules/:id", h.DeleteRule)
	admin.Get("/rules/:id/logs", h.ListRuleLogs)
	admin.Delete("/rules/:id/logs", h.ClearRuleLogs)
	admin.Post("/rules/:id/test", h.TestRule)

	admin.Get("/logs", h.ListLogs)
	admin.Post("/logs/purge", h.PurgeLogs)

	admin.Get("/type-mappings", h.ListTypeMappings)
	admin.Post("/type-mappings", h.CreateTypeMapping)
	admin.Put("/type-mappings/:id", h.UpdateTypeMapping)
	admin.Delete("/type-mappings/:id", h.DeleteTypeMapping)

	admin.Get("/api-keys", h.ListAPIKeys)
	admin.Post("/api-keys", h.CreateAPIKey)
	admin.Delete("/api-keys/:id", h.RevokeAPIKey)
}

// --- Entity Endpoints ---

func (h *Handler) ListEntities(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.UserContext(), h.store.DB,
		"SELECT name, table_name, definition, created_at, updated_at FROM _entities ORDER BY name")
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	for _, row := range rows {
		decodeDefinition(row)
	}
	return c.JSON(fiber.Map{"data": rows})
}

func (h *Handler) GetEntity(c *fiber.Ctx) error {
	name := c.Params("name")
	pb := h.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(c.UserContext(), h.store.DB,
		"SELECT name, table_name, definition, created_at, updated_at FROM _entities WHERE name = "+pb.Add(name),
		pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return engine.UnknownEntityError(name)
	}
	if err != nil {
		return fmt.Errorf("get entity %s: %w", name, err)
	}
	decodeDefinition(row)
	return c.JSON(fiber.Map{"data": row})
}

func (h *Handler) CreateEntity(c *fiber.Ctx) error {
	var entity metadata.Entity
	if err := decodeBody(c, &entity); err != nil {
		return err
	}
	if err := validateEntity(&entity); err != nil {
		return validationFailed("", err)
	}
	if h.registry.GetEntity(entity.Name) != nil {
		return engine.ConflictError("Entity already exists: "+entity.Name, nil)
	}

	defJSON, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}

	ctx := c.UserContext()
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, h.store.DB,
		fmt.Sprintf("INSERT INTO _entities (name, table_name, definition) VALUES (%s, %s, %s)",
			pb.Add(entity.Name), pb.Add(entity.Table), pb.Add(string(defJSON))),
		pb.Params()...)
	if err != nil {
		err = store.MapError(h.store.Dialect, err)
		if errors.Is(err, store.ErrUniqueViolation) {
			return engine.ConflictError("Table already in use: "+entity.Table, err)
		}
		return fmt.Errorf("insert entity: %w", err)
	}

	if err := h.migrator.Migrate(ctx, &entity); err != nil {
		return fmt.Errorf("migrate entity %s: %w", entity.Name, err)
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": entity})
}

func (h *Handler) UpdateEntity(c *fiber.Ctx) error {
	name := c.Params("name")
	if h.registry.GetEntity(name) == nil {
		return engine.UnknownEntityError(name)
	}

	var entity metadata.Entity
	if err := decodeBody(c, &entity); err != nil {
		return err
	}
	entity.Name = name
	if err := validateEntity(&entity); err != nil {
		return validationFailed("", err)
	}

	defJSON, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}

	ctx := c.UserContext()
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, h.store.DB,
		fmt.Sprintf("UPDATE _entities SET table_name = %s, definition = %s, updated_at = %s WHERE name = %s",
			pb.Add(entity.Table), pb.Add(string(defJSON)), h.store.Dialect.NowExpr(), pb.Add(name)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("update entity: %w", store.MapError(h.store.Dialect, err))
	}

	if err := h.migrator.Migrate(ctx, &entity); err != nil {
		return fmt.Errorf("migrate entity %s: %w", entity.Name, err)
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entity})
}

// DeleteEntity removes the schema entry. The table and its rows are left in
// place.
func (h *Handler) DeleteEntity(c *fiber.Ctx) error {
	name := c.Params("name")
	if h.registry.GetEntity(name) == nil {
		return engine.UnknownEntityError(name)
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err := store.Exec(c.UserContext(), h.store.DB, "DELETE FROM _entities WHERE name = "+pb.Add(name), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", name, err)
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"name": name, "deleted": true}})
}

// --- helpers ---

func (h *Handler) reload(c *fiber.Ctx) error {
	if err := metadata.Reload(c.UserContext(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return nil
}

// validateEntity checks operator input and then runs the same preparation
// the loader applies, so what is stored is what gets loaded.
func validateEntity(e *metadata.Entity) error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if e.Table == "" {
		return fmt.Errorf("table name is required")
	}
	if len(e.Fields) == 0 {
		return fmt.Errorf("entity must have at least one field")
	}
	return e.Prepare()
}

func decodeDefinition(row map[string]any) {
	raw, ok := row["definition"].(string)
	if !ok {
		return
	}
	var def any
	if err := json.Unmarshal([]byte(raw), &def); err == nil {
		row["definition"] = def
	}
}

func decodeBody(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return engine.InvalidPayloadError("Request body is required")
	}
	if err := json.Unmarshal(c.Body(), v); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	return nil
}

func validationFailed(field string, err error) error {
	return engine.ValidationError([]engine.ErrorDetail{{Field: field, Message: err.Error()}})
}
