package trigger

import (
	"context"
	"errors"
	"fmt"

	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
)

// InsertRule validates and stores a new trigger rule, assigning its id.
func InsertRule(ctx context.Context, s *store.Store, r *metadata.TriggerRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = store.GenerateUUID()
	}
	pb := s.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(`INSERT INTO _trigger_rules (id, name, target_type, on_created, on_modified, on_removed,
		webhook_url, http_method, custom_headers, condition, active)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(r.ID), pb.Add(r.Name), pb.Add(r.TargetType), pb.Add(r.OnCreated), pb.Add(r.OnModified),
		pb.Add(r.OnRemoved), pb.Add(r.WebhookURL), pb.Add(r.HTTPMethod()), pb.Add(r.CustomHeaders),
		pb.Add(r.Condition), pb.Add(r.Active))
	if _, err := store.Exec(ctx, s.DB, sql, pb.Params()...); err != nil {
		return fmt.Errorf("insert trigger rule: %w", store.MapError(s.Dialect, err))
	}
	return nil
}

// UpdateRule overwrites a stored rule. A missing id yields store.ErrNotFound.
func UpdateRule(ctx context.Context, s *store.Store, r *metadata.TriggerRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	pb := s.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(`UPDATE _trigger_rules SET name = %s, target_type = %s, on_created = %s, on_modified = %s,
		on_removed = %s, webhook_url = %s, http_method = %s, custom_headers = %s, condition = %s, active = %s,
		updated_at = %s WHERE id = %s`,
		pb.Add(r.Name), pb.Add(r.TargetType), pb.Add(r.OnCreated), pb.Add(r.OnModified), pb.Add(r.OnRemoved),
		pb.Add(r.WebhookURL), pb.Add(r.HTTPMethod()), pb.Add(r.CustomHeaders), pb.Add(r.Condition),
		pb.Add(r.Active), s.Dialect.NowExpr(), pb.Add(r.ID))
	n, err := store.Exec(ctx, s.DB, sql, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update trigger rule: %w", store.MapError(s.Dialect, err))
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule. Its logs keep their rule_name and lose the id.
func DeleteRule(ctx context.Context, s *store.Store, id string) error {
	pb := s.Dialect.NewParamBuilder()
	n, err := store.Exec(ctx, s.DB, "DELETE FROM _trigger_rules WHERE id = "+pb.Add(id), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete trigger rule: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IsDuplicateRule reports whether err came from a rule name collision.
func IsDuplicateRule(err error) bool {
	return errors.Is(err, store.ErrUniqueViolation)
}
