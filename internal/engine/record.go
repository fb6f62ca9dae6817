package engine

import (
	"time"

	"github.com/google/uuid"
)

// RecordMap renders an object's persistent values as JSON-friendly data.
func RecordMap(o *Object) map[string]any {
	out := make(map[string]any, len(o.values))
	for _, f := range o.Entity.PersistentFields() {
		v, ok := o.values[f.Name]
		if !ok {
			continue
		}
		out[f.Name] = jsonValue(v)
	}
	return out
}

func jsonValue(v any) any {
	switch val := v.(type) {
	case uuid.UUID:
		return val.String()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *Object:
		return val.Key()
	default:
		return v
	}
}
