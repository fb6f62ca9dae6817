package metadata

import (
	"fmt"
	"strings"
)

const (
	TypeString    = "string"
	TypeText      = "text"
	TypeInt       = "int"
	TypeBigInt    = "bigint"
	TypeFloat     = "float"
	TypeDecimal   = "decimal"
	TypeBoolean   = "boolean"
	TypeUUID      = "uuid"
	TypeTimestamp = "timestamp"
	TypeDate      = "date"
	TypeEnum      = "enum"
	TypeRef       = "ref"
	TypeJSON      = "json"
)

var knownTypes = map[string]bool{
	TypeString: true, TypeText: true, TypeInt: true, TypeBigInt: true, TypeFloat: true,
	TypeDecimal: true, TypeBoolean: true, TypeUUID: true, TypeTimestamp: true, TypeDate: true,
	TypeEnum: true, TypeRef: true, TypeJSON: true,
}

type Field struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Required      bool     `json:"required,omitempty"`
	Unique        bool     `json:"unique,omitempty"`
	Nullable      bool     `json:"nullable,omitempty"`
	Default       any      `json:"default,omitempty"`
	Enum          []string `json:"enum,omitempty"`
	Ref           string   `json:"ref,omitempty"` // target entity name for ref fields
	Precision     int      `json:"precision,omitempty"`
	NonPersistent bool     `json:"non_persistent,omitempty"`
	Internal      bool     `json:"internal,omitempty"` // bookkeeping, never published
}

func (f Field) validate() error {
	if f.Name == "" {
		return fmt.Errorf("field name is required")
	}
	if !knownTypes[f.Type] {
		return fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
	}
	if f.Type == TypeEnum && len(f.Enum) == 0 {
		return fmt.Errorf("field %s: enum requires values", f.Name)
	}
	if f.Type == TypeRef && f.Ref == "" {
		return fmt.Errorf("field %s: ref requires a target entity", f.Name)
	}
	return nil
}

// EnumValue returns the canonical enum name matching s, ignoring case.
func (f Field) EnumValue(s string) (string, bool) {
	for _, v := range f.Enum {
		if strings.EqualFold(v, s) {
			return v, true
		}
	}
	return "", false
}

// EnumName returns the symbolic name at ordinal i.
func (f Field) EnumName(i int64) (string, bool) {
	if i < 0 || i >= int64(len(f.Enum)) {
		return "", false
	}
	return f.Enum[i], true
}
