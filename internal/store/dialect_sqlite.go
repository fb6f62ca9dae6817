package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// sqliteTimeFormat is fixed width so that TEXT comparison orders timestamps.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NowExpr() string         { return "datetime('now')" }
func (d *SQLiteDialect) NeedsBoolFix() bool      { return true }
func (d *SQLiteDialect) SystemTablesSQL() string { return sqliteSystemTablesSQL }

func (d *SQLiteDialect) TimeParam(t time.Time) any {
	return t.UTC().Format(sqliteTimeFormat)
}

func (d *SQLiteDialect) ColumnType(fieldType string, precision int) string {
	switch fieldType {
	case "int", "bigint", "boolean":
		return "INTEGER"
	case "float", "decimal":
		return "REAL"
	default:
		// string, text, enum, uuid, ref, timestamp, date, json
		return "TEXT"
	}
}

func (d *SQLiteDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?1",
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) GetColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dfltValue any
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = colType
	}
	return cols, rows.Err()
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _entities (
    name        TEXT PRIMARY KEY,
    table_name  TEXT NOT NULL UNIQUE,
    definition  TEXT NOT NULL,
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _trigger_rules (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL UNIQUE,
    target_type    TEXT NOT NULL,
    on_created     INTEGER NOT NULL DEFAULT 0,
    on_modified    INTEGER NOT NULL DEFAULT 0,
    on_removed     INTEGER NOT NULL DEFAULT 0,
    webhook_url    TEXT NOT NULL,
    http_method    TEXT NOT NULL DEFAULT 'POST',
    custom_headers TEXT DEFAULT '',
    condition      TEXT DEFAULT '',
    active         INTEGER NOT NULL DEFAULT 1,
    created_at     TEXT DEFAULT (datetime('now')),
    updated_at     TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _trigger_logs (
    id             TEXT PRIMARY KEY,
    rule_id        TEXT REFERENCES _trigger_rules(id) ON DELETE SET NULL,
    rule_name      TEXT NOT NULL DEFAULT '',
    executed_at    TEXT NOT NULL,
    object_type    TEXT NOT NULL,
    object_key     TEXT NOT NULL,
    event_type     TEXT NOT NULL,
    http_method    TEXT NOT NULL,
    payload        TEXT NOT NULL,
    is_success     INTEGER NOT NULL,
    status_code    INTEGER,
    response_body  TEXT DEFAULT '',
    error_message  TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trigger_logs_executed_at ON _trigger_logs(executed_at);
CREATE INDEX IF NOT EXISTS idx_trigger_logs_rule ON _trigger_logs(rule_id);

CREATE TABLE IF NOT EXISTS _type_mappings (
    id          TEXT PRIMARY KEY,
    source_type TEXT NOT NULL UNIQUE,
    local_type  TEXT NOT NULL,
    active      INTEGER NOT NULL DEFAULT 1,
    description TEXT DEFAULT '',
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _api_keys (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    prefix       TEXT NOT NULL UNIQUE,
    key_hash     TEXT NOT NULL,
    active       INTEGER NOT NULL DEFAULT 1,
    expires_at   TEXT,
    last_used_at TEXT,
    created_at   TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    roles         TEXT NOT NULL DEFAULT '[]',
    active        INTEGER DEFAULT 1,
    created_at    TEXT DEFAULT (datetime('now'))
);
`

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
