package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts ISO-8601 timestamps with or without offset, and dates.
// Values without an offset are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// NormalizeValue converts a JSON-decoded or database-scanned value to the Go
// type used for the field kind.
func NormalizeValue(f *metadata.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch f.Type {
	case metadata.TypeString, metadata.TypeText:
		return cast.ToStringE(v)

	case metadata.TypeInt, metadata.TypeBigInt:
		return cast.ToInt64E(v)

	case metadata.TypeFloat, metadata.TypeDecimal:
		return cast.ToFloat64E(v)

	case metadata.TypeBoolean:
		return cast.ToBoolE(v)

	case metadata.TypeUUID:
		switch id := v.(type) {
		case uuid.UUID:
			return id, nil
		case [16]byte:
			return uuid.UUID(id), nil
		case string:
			return uuid.Parse(id)
		}
		return nil, fmt.Errorf("cannot use %T as uuid", v)

	case metadata.TypeRef:
		switch ref := v.(type) {
		case *Object:
			return ref, nil
		case uuid.UUID:
			return ref.String(), nil
		case string:
			if id, err := uuid.Parse(ref); err == nil {
				return id.String(), nil
			}
			return ref, nil
		}
		return cast.ToStringE(v)

	case metadata.TypeTimestamp, metadata.TypeDate:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			return ParseTime(t)
		}
		return cast.ToTimeE(v)

	case metadata.TypeEnum:
		switch e := v.(type) {
		case string:
			if name, ok := f.EnumValue(e); ok {
				return name, nil
			}
			return nil, fmt.Errorf("%q is not one of %s", e, strings.Join(f.Enum, ", "))
		default:
			i, err := cast.ToInt64E(v)
			if err != nil {
				return nil, err
			}
			if name, ok := f.EnumName(i); ok {
				return name, nil
			}
			return nil, fmt.Errorf("enum ordinal %d out of range", i)
		}

	case metadata.TypeJSON:
		if s, ok := v.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err != nil {
				return nil, fmt.Errorf("invalid json: %w", err)
			}
			return decoded, nil
		}
		return v, nil
	}
	return v, nil
}

// dbValue converts a Go value to a driver parameter for the field kind.
func dbValue(d store.Dialect, f *metadata.Field, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return d.TimeParam(val), nil
	case uuid.UUID:
		return val.String(), nil
	case *Object:
		return val.Key(), nil
	}
	if f.Type == metadata.TypeJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Name, err)
		}
		return string(b), nil
	}
	return v, nil
}

// rowToValues converts a scanned row to typed field values.
func rowToValues(e *metadata.Entity, row map[string]any) map[string]any {
	values := make(map[string]any, len(row))
	for _, f := range e.PersistentFields() {
		raw, ok := row[f.Name]
		if !ok {
			continue
		}
		v, err := NormalizeValue(&f, raw)
		if err != nil {
			// Leave the stored value readable rather than failing the whole row.
			values[f.Name] = raw
			continue
		}
		values[f.Name] = v
	}
	return values
}

// ParseKey converts a path or payload key to the primary key's Go type.
func ParseKey(e *metadata.Entity, s string) (any, error) {
	f := e.GetField(e.PrimaryKey.Field)
	if f == nil {
		return s, nil
	}
	return NormalizeValue(f, s)
}
