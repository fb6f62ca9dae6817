package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
)

// Querier is the read side of *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LoadAll reads entities, trigger rules and type mappings from the database and populates the registry.
func LoadAll(ctx context.Context, db Querier, reg *Registry) error {
	entities, err := loadEntities(ctx, db)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	reg.Load(entities)

	rules, err := loadTriggerRules(ctx, db)
	if err != nil {
		return fmt.Errorf("load trigger rules: %w", err)
	}
	reg.LoadTriggerRules(rules)

	mappings, err := loadTypeMappings(ctx, db)
	if err != nil {
		return fmt.Errorf("load type mappings: %w", err)
	}
	reg.LoadTypeMappings(mappings)

	log.Printf("Loaded %d entities, %d trigger rules, %d type mappings into registry",
		len(entities), len(rules), len(mappings))
	return nil
}

// Reload is an alias for LoadAll, called after admin mutations.
func Reload(ctx context.Context, db Querier, reg *Registry) error {
	return LoadAll(ctx, db, reg)
}

func loadEntities(ctx context.Context, db Querier) ([]*Entity, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, definition FROM _entities ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		var name string
		var defJSON []byte
		if err := rows.Scan(&name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}

		var entity Entity
		if err := json.Unmarshal(defJSON, &entity); err != nil {
			log.Printf("WARN: skipping entity %s (invalid JSON): %v", name, err)
			continue
		}
		if err := entity.Prepare(); err != nil {
			log.Printf("WARN: skipping entity %s: %v", name, err)
			continue
		}
		entities = append(entities, &entity)
	}
	return entities, rows.Err()
}

func loadTriggerRules(ctx context.Context, db Querier) ([]*TriggerRule, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, target_type, on_created, on_modified, on_removed, webhook_url, http_method,
		 custom_headers, condition, active FROM _trigger_rules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*TriggerRule
	for rows.Next() {
		var r TriggerRule
		var headers, condition sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.TargetType, &r.OnCreated, &r.OnModified, &r.OnRemoved,
			&r.WebhookURL, &r.Method, &headers, &condition, &r.Active); err != nil {
			return nil, fmt.Errorf("scan trigger rule row: %w", err)
		}
		r.CustomHeaders = headers.String
		r.Condition = condition.String
		if err := r.Compile(); err != nil {
			// Keep the rule visible to admins but never fire it.
			log.Printf("WARN: deactivating trigger rule %s: %v", r.Name, err)
			r.Active = false
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

func loadTypeMappings(ctx context.Context, db Querier) ([]*TypeMapping, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, source_type, local_type, active, description FROM _type_mappings ORDER BY source_type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*TypeMapping
	for rows.Next() {
		var m TypeMapping
		var desc sql.NullString
		if err := rows.Scan(&m.ID, &m.SourceType, &m.LocalType, &m.Active, &desc); err != nil {
			return nil, fmt.Errorf("scan type mapping row: %w", err)
		}
		m.Description = desc.String
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}
