package metadata

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// SyncedAtField is the column every syncable entity carries for the last
// successful receiver apply.
const SyncedAtField = "synced_at"

// Entity describes one storage type. Name is the full type name used on the
// wire (e.g. "Sales.Order").
type Entity struct {
	Name       string           `json:"name"`
	Table      string           `json:"table"`
	PrimaryKey PrimaryKey       `json:"primary_key"`
	Syncable   bool             `json:"syncable,omitempty"`
	ReadOnly   bool             `json:"read_only,omitempty"`
	System     bool             `json:"-"`
	Fields     []Field          `json:"fields"`
	Rules      []ValidationRule `json:"rules,omitempty"`
}

type PrimaryKey struct {
	Field     string `json:"field"`
	Type      string `json:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated"`
}

// ValidationRule is an expression that must evaluate to true for a record to
// be committed. The environment exposes record, action and entity.
type ValidationRule struct {
	Expression string `json:"expression"`
	Message    string `json:"message,omitempty"`

	program *vm.Program
}

// Program returns the compiled expression, or nil if Prepare was not called.
func (r *ValidationRule) Program() *vm.Program {
	return r.program
}

// SimpleName returns the segment after the last '.' of the type name.
func (e *Entity) SimpleName() string {
	if i := strings.LastIndex(e.Name, "."); i >= 0 {
		return e.Name[i+1:]
	}
	return e.Name
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// FindField looks a field up by name, ignoring case.
func (e *Entity) FindField(name string) *Field {
	if f := e.GetField(name); f != nil {
		return f
	}
	for i := range e.Fields {
		if strings.EqualFold(e.Fields[i].Name, name) {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *Entity) HasField(name string) bool {
	return e.GetField(name) != nil
}

// PersistentFields returns fields that map to a column.
func (e *Entity) PersistentFields() []Field {
	fields := make([]Field, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.NonPersistent {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// IsKey reports whether name is the primary key field.
func (e *Entity) IsKey(name string) bool {
	return name == e.PrimaryKey.Field
}

// Prepare validates the descriptor and compiles its validation rules. It is
// called once when the registry is loaded.
func (e *Entity) Prepare() error {
	if e.Name == "" || e.Table == "" {
		return fmt.Errorf("entity name and table are required")
	}
	if e.PrimaryKey.Field == "" {
		e.PrimaryKey.Field = "id"
	}
	if e.PrimaryKey.Type == "" {
		e.PrimaryKey.Type = TypeUUID
	}
	if e.GetField(e.PrimaryKey.Field) == nil {
		e.Fields = append([]Field{{Name: e.PrimaryKey.Field, Type: e.PrimaryKey.Type}}, e.Fields...)
	}
	if e.Syncable {
		if e.PrimaryKey.Type != TypeUUID {
			return fmt.Errorf("syncable entity %s must have a uuid primary key", e.Name)
		}
		// Keys of syncable records are assigned by the sender.
		e.PrimaryKey.Generated = false
		if e.GetField(SyncedAtField) == nil {
			e.Fields = append(e.Fields, Field{Name: SyncedAtField, Type: TypeTimestamp, Nullable: true, Internal: true})
		}
	}
	for i := range e.Fields {
		if err := e.Fields[i].validate(); err != nil {
			return fmt.Errorf("entity %s: %w", e.Name, err)
		}
	}
	for i := range e.Rules {
		prog, err := expr.Compile(e.Rules[i].Expression, expr.AsBool())
		if err != nil {
			return fmt.Errorf("entity %s rule %q: %w", e.Name, e.Rules[i].Expression, err)
		}
		e.Rules[i].program = prog
	}
	return nil
}
