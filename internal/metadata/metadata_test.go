package metadata

import (
	"testing"

	"syncbridge/internal/wire"
)

func orderEntity() *Entity {
	return &Entity{
		Name:       "Sales.Order",
		Table:      "orders",
		PrimaryKey: PrimaryKey{Field: "id", Type: TypeUUID},
		Syncable:   true,
		Fields: []Field{
			{Name: "number", Type: TypeString, Required: true},
			{Name: "status", Type: TypeEnum, Enum: []string{"Draft", "Confirmed", "Shipped"}},
		},
		Rules: []ValidationRule{{Expression: `record.number != ""`, Message: "number must not be empty"}},
	}
}

func TestEntityPrepare_SyncableGetsKeyAndSyncedAt(t *testing.T) {
	e := orderEntity()
	if err := e.Prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if e.GetField("id") == nil {
		t.Fatal("expected primary key field to be added")
	}
	f := e.GetField(SyncedAtField)
	if f == nil || !f.Internal {
		t.Fatalf("expected internal synced_at field, got %+v", f)
	}
	if e.Rules[0].Program() == nil {
		t.Fatal("expected validation rule to be compiled")
	}
	if e.SimpleName() != "Order" {
		t.Fatalf("expected simple name Order, got %s", e.SimpleName())
	}
}

func TestEntityPrepare_SyncableRequiresUUIDKey(t *testing.T) {
	e := &Entity{Name: "Counter", Table: "counters", Syncable: true,
		PrimaryKey: PrimaryKey{Field: "id", Type: TypeInt}}
	if err := e.Prepare(); err == nil {
		t.Fatal("expected error for syncable entity with int key")
	}
}

func TestTriggerRule_MatchesType(t *testing.T) {
	e := orderEntity()
	tests := []struct {
		target string
		want   bool
	}{
		{"Sales.Order", true},
		{"sales.order", true},
		{"Order", true},
		{"ORDER", true},
		{"Sales", false},
		{"Purchase.Order", false},
	}
	for _, tt := range tests {
		r := &TriggerRule{TargetType: tt.target}
		if got := r.MatchesType(e); got != tt.want {
			t.Errorf("target %q: got %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestTriggerRule_Fires(t *testing.T) {
	r := &TriggerRule{OnModified: true}
	if !r.Fires(wire.EventModified) {
		t.Fatal("expected Modified to fire")
	}
	if r.Fires(wire.EventCreated) || r.Fires(wire.EventDeleted) || r.Fires(wire.EventTest) {
		t.Fatal("expected only Modified to fire")
	}
}

func TestTriggerRule_HeadersAndCondition(t *testing.T) {
	r := &TriggerRule{Name: "r", CustomHeaders: `{"X-Token":"abc"}`, Condition: `event == "Created"`}
	h, err := r.Headers()
	if err != nil || h["X-Token"] != "abc" {
		t.Fatalf("unexpected headers %v, err %v", h, err)
	}
	if err := r.Compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	ok, err := r.ConditionHolds(map[string]any{"event": "Created"})
	if err != nil || !ok {
		t.Fatalf("expected condition to hold, got %v, %v", ok, err)
	}

	r.CustomHeaders = "{not json"
	if _, err := r.Headers(); err == nil {
		t.Fatal("expected error for malformed headers")
	}
}

func TestRegistry_TypeMappingAndLookup(t *testing.T) {
	reg := NewRegistry()
	e := orderEntity()
	if err := e.Prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	reg.Load([]*Entity{e})
	reg.LoadTypeMappings([]*TypeMapping{
		{SourceType: "Legacy.Order", LocalType: "Sales.Order", Active: true},
		{SourceType: "Old.Order", LocalType: "Sales.Order", Active: false},
	})

	if reg.FindEntity("sales.order") != e {
		t.Fatal("expected case-insensitive entity lookup")
	}
	if m := reg.ActiveTypeMapping("legacy.order"); m == nil || m.LocalType != "Sales.Order" {
		t.Fatalf("expected active mapping, got %+v", m)
	}
	if reg.ActiveTypeMapping("Old.Order") != nil {
		t.Fatal("inactive mapping must be invisible")
	}
}

func TestRegistry_ActiveTriggerRules(t *testing.T) {
	reg := NewRegistry()
	reg.LoadTriggerRules([]*TriggerRule{
		{ID: "1", Name: "a", Active: true},
		{ID: "2", Name: "b", Active: false},
	})
	if got := len(reg.ActiveTriggerRules()); got != 1 {
		t.Fatalf("expected 1 active rule, got %d", got)
	}
	if reg.GetTriggerRule("2") == nil {
		t.Fatal("inactive rule should still be retrievable by id")
	}
}
