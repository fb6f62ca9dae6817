package engine

import "github.com/gofiber/fiber/v2"

// RegisterDynamicRoutes mounts entity CRUD under /api. Call it after every
// fixed /api route so /:entity does not shadow them.
func RegisterDynamicRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api", middleware...)

	api.Post("/_commit", h.Commit)
	api.Get("/:entity", h.List)
	api.Get("/:entity/:id", h.GetByID)
	api.Post("/:entity", h.Create)
	api.Put("/:entity/:id", h.Update)
	api.Delete("/:entity/:id", h.Delete)
}
