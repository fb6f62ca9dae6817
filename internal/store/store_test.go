package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"syncbridge/internal/metadata"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "test.db"), 0)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

func TestBootstrap_IsIdempotentAndSeedsAdmin(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	row, err := QueryRow(ctx, s.DB, "SELECT COUNT(*) AS n FROM _users")
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if row["n"] != int64(1) {
		t.Fatalf("expected exactly one seeded user, got %v", row["n"])
	}
}

func TestQueryRow_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := QueryRow(context.Background(), s.DB, "SELECT id FROM _api_keys WHERE prefix = ?1", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMapError_UniqueViolation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	insert := "INSERT INTO _type_mappings (id, source_type, local_type) VALUES (?1, ?2, ?3)"
	if _, err := Exec(ctx, s.DB, insert, GenerateUUID(), "A.Order", "Order"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := Exec(ctx, s.DB, insert, GenerateUUID(), "A.Order", "Order")
	if !errors.Is(MapError(s.Dialect, err), ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got %v", err)
	}
}

func TestMigrator_CreateThenAddColumn(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	m := NewMigrator(s)

	e := &metadata.Entity{
		Name:       "Sales.Order",
		Table:      "orders",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: metadata.TypeUUID},
		Syncable:   true,
		Fields: []metadata.Field{
			{Name: "number", Type: metadata.TypeString, Required: true, Unique: true},
			{Name: "draft_note", Type: metadata.TypeString, NonPersistent: true},
		},
	}
	if err := e.Prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := m.Migrate(ctx, e); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cols, err := s.Dialect.GetColumns(ctx, s.DB, "orders")
	if err != nil {
		t.Fatalf("get columns: %v", err)
	}
	for _, want := range []string{"id", "number", metadata.SyncedAtField} {
		if _, ok := cols[want]; !ok {
			t.Fatalf("expected column %s, got %v", want, cols)
		}
	}
	if _, ok := cols["draft_note"]; ok {
		t.Fatal("non-persistent field must not get a column")
	}

	e.Fields = append(e.Fields, metadata.Field{Name: "total", Type: metadata.TypeDecimal})
	if err := m.Migrate(ctx, e); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	cols, _ = s.Dialect.GetColumns(ctx, s.DB, "orders")
	if _, ok := cols["total"]; !ok {
		t.Fatal("expected total column to be added")
	}
}

func TestSQLiteTimeParam_OrdersLexically(t *testing.T) {
	d := &SQLiteDialect{}
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := d.TimeParam(base).(string)
	b := d.TimeParam(base.Add(500 * time.Millisecond)).(string)
	c := d.TimeParam(base.Add(time.Second)).(string)
	if !(a < b && b < c) {
		t.Fatalf("expected lexical order %s < %s < %s", a, b, c)
	}
	if _, err := time.Parse(time.RFC3339Nano, a); err != nil {
		t.Fatalf("sqlite time must parse as RFC3339: %v", err)
	}
}
