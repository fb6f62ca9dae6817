package admin

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"syncbridge/internal/engine"
	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
	"syncbridge/internal/trigger"
)

// ruleInput defaults Active to true when the field is omitted.
type ruleInput struct {
	metadata.TriggerRule
	Active *bool `json:"active"`
}

func (in ruleInput) rule() *metadata.TriggerRule {
	r := in.TriggerRule
	r.Active = in.Active == nil || *in.Active
	return &r
}

func (h *Handler) ListRules(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.AllTriggerRules()})
}

func (h *Handler) GetRule(c *fiber.Ctx) error {
	rule, err := h.findRule(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rule})
}

func (h *Handler) CreateRule(c *fiber.Ctx) error {
	var in ruleInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	rule := in.rule()
	rule.ID = ""
	if err := rule.Validate(); err != nil {
		return validationFailed("", err)
	}

	if err := trigger.InsertRule(c.UserContext(), h.store, rule); err != nil {
		if trigger.IsDuplicateRule(err) {
			return engine.ConflictError("Trigger rule already exists: "+rule.Name, err)
		}
		return err
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": rule})
}

func (h *Handler) UpdateRule(c *fiber.Ctx) error {
	id := c.Params("id")
	var in ruleInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	rule := in.rule()
	rule.ID = id
	if err := rule.Validate(); err != nil {
		return validationFailed("", err)
	}

	err := trigger.UpdateRule(c.UserContext(), h.store, rule)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return engine.NotFoundError("trigger rule", id)
	case trigger.IsDuplicateRule(err):
		return engine.ConflictError("Trigger rule already exists: "+rule.Name, err)
	case err != nil:
		return err
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rule})
}

func (h *Handler) DeleteRule(c *fiber.Ctx) error {
	id := c.Params("id")
	err := trigger.DeleteRule(c.UserContext(), h.store, id)
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFoundError("trigger rule", id)
	}
	if err != nil {
		return err
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

func (h *Handler) ListRuleLogs(c *fiber.Ctx) error {
	rule, err := h.findRule(c)
	if err != nil {
		return err
	}
	logs, err := h.logs.ListLogs(c.UserContext(), trigger.LogFilter{
		RuleID: rule.ID,
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": logs})
}

// ClearRuleLogs handles DELETE /api/_admin/rules/:id/logs.
func (h *Handler) ClearRuleLogs(c *fiber.Ctx) error {
	rule, err := h.findRule(c)
	if err != nil {
		return err
	}
	n, err := h.logs.ClearLogs(c.UserContext(), rule.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"rule_id": rule.ID, "deleted": n}})
}

// TestRule sends a Test payload to the rule's webhook and reports the
// outcome. Inactive rules can be tested too.
func (h *Handler) TestRule(c *fiber.Ctx) error {
	rule, err := h.findRule(c)
	if err != nil {
		return err
	}
	res := trigger.SendTest(c.UserContext(), h.dispatcher, rule, h.metrics)

	var status any
	if res.StatusCode != 0 {
		status = res.StatusCode
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"success":       res.Success,
		"status_code":   status,
		"response_body": res.ResponseBody,
		"error":         res.Error,
		"duration_ms":   res.Duration.Milliseconds(),
	}})
}

func (h *Handler) ListLogs(c *fiber.Ctx) error {
	logs, err := h.logs.ListLogs(c.UserContext(), trigger.LogFilter{
		RuleID: c.Query("rule_id"),
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": logs})
}

// PurgeLogs deletes logs older than retention_days (body or configured
// default).
func (h *Handler) PurgeLogs(c *fiber.Ctx) error {
	var body struct {
		RetentionDays *int `json:"retention_days"`
	}
	if len(c.Body()) > 0 {
		if err := decodeBody(c, &body); err != nil {
			return err
		}
	}
	days := h.retentionDays
	if body.RetentionDays != nil {
		days = *body.RetentionDays
	}
	if days <= 0 {
		return validationFailed("retention_days", fmt.Errorf("retention_days must be positive"))
	}

	n, err := h.logs.Purge(c.UserContext(), days, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"deleted": n, "retention_days": days}})
}

func (h *Handler) findRule(c *fiber.Ctx) (*metadata.TriggerRule, error) {
	id := c.Params("id")
	rule := h.registry.GetTriggerRule(id)
	if rule == nil {
		return nil, engine.NotFoundError("trigger rule", id)
	}
	return rule, nil
}
