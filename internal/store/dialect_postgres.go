package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) NowExpr() string           { return "NOW()" }
func (d *PostgresDialect) NeedsBoolFix() bool        { return false }
func (d *PostgresDialect) TimeParam(t time.Time) any { return t.UTC() }
func (d *PostgresDialect) SystemTablesSQL() string   { return pgSystemTablesSQL }

func (d *PostgresDialect) ColumnType(fieldType string, precision int) string {
	switch fieldType {
	case "string", "text", "enum":
		return "TEXT"
	case "int":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "float":
		return "DOUBLE PRECISION"
	case "decimal":
		if precision > 0 {
			return fmt.Sprintf("NUMERIC(18,%d)", precision)
		}
		return "NUMERIC"
	case "boolean":
		return "BOOLEAN"
	case "uuid", "ref":
		return "UUID"
	case "timestamp":
		return "TIMESTAMPTZ"
	case "date":
		return "DATE"
	case "json":
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (d *PostgresDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = 'public')`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) GetColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 AND table_schema = 'public'`,
		tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols[name] = dataType
	}
	return cols, rows.Err()
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	// Fallback for wrapped errors that lost the PgError type.
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

const pgSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _entities (
    name        TEXT PRIMARY KEY,
    table_name  TEXT NOT NULL UNIQUE,
    definition  JSONB NOT NULL,
    created_at  TIMESTAMPTZ DEFAULT NOW(),
    updated_at  TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS _trigger_rules (
    id             UUID PRIMARY KEY,
    name           TEXT NOT NULL UNIQUE,
    target_type    TEXT NOT NULL,
    on_created     BOOLEAN NOT NULL DEFAULT false,
    on_modified    BOOLEAN NOT NULL DEFAULT false,
    on_removed     BOOLEAN NOT NULL DEFAULT false,
    webhook_url    TEXT NOT NULL,
    http_method    TEXT NOT NULL DEFAULT 'POST',
    custom_headers TEXT DEFAULT '',
    condition      TEXT DEFAULT '',
    active         BOOLEAN NOT NULL DEFAULT true,
    created_at     TIMESTAMPTZ DEFAULT NOW(),
    updated_at     TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS _trigger_logs (
    id             UUID PRIMARY KEY,
    rule_id        UUID REFERENCES _trigger_rules(id) ON DELETE SET NULL,
    rule_name      TEXT NOT NULL DEFAULT '',
    executed_at    TIMESTAMPTZ NOT NULL,
    object_type    VARCHAR(500) NOT NULL,
    object_key     VARCHAR(200) NOT NULL,
    event_type     TEXT NOT NULL,
    http_method    TEXT NOT NULL,
    payload        TEXT NOT NULL,
    is_success     BOOLEAN NOT NULL,
    status_code    INT,
    response_body  VARCHAR(4003) DEFAULT '',
    error_message  VARCHAR(2003) DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trigger_logs_executed_at ON _trigger_logs(executed_at);
CREATE INDEX IF NOT EXISTS idx_trigger_logs_rule ON _trigger_logs(rule_id);

CREATE TABLE IF NOT EXISTS _type_mappings (
    id          UUID PRIMARY KEY,
    source_type TEXT NOT NULL UNIQUE,
    local_type  TEXT NOT NULL,
    active      BOOLEAN NOT NULL DEFAULT true,
    description TEXT DEFAULT '',
    created_at  TIMESTAMPTZ DEFAULT NOW(),
    updated_at  TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS _api_keys (
    id           UUID PRIMARY KEY,
    name         TEXT NOT NULL,
    prefix       TEXT NOT NULL UNIQUE,
    key_hash     TEXT NOT NULL,
    active       BOOLEAN NOT NULL DEFAULT true,
    expires_at   TIMESTAMPTZ,
    last_used_at TIMESTAMPTZ,
    created_at   TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS _users (
    id            UUID PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    roles         TEXT NOT NULL DEFAULT '[]',
    active        BOOLEAN DEFAULT true,
    created_at    TIMESTAMPTZ DEFAULT NOW()
);
`

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
