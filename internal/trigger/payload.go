package trigger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"syncbridge/internal/engine"
	"syncbridge/internal/metadata"
	"syncbridge/internal/wire"
)

// bookkeeping members that never leave the process.
var deniedMembers = map[string]bool{
	"session":         true,
	"classinfo":       true,
	"isloading":       true,
	"loading":         true,
	"isdeleted":       true,
	"deletedat":       true,
	"deleted_at":      true,
	"optimistic_lock": true,
	"gcrecord":        true,
	"oid":             true,
}

func denied(name string) bool {
	n := strings.ToLower(name)
	return deniedMembers[n] || strings.HasPrefix(n, "optimisticlock")
}

// BuildPayload serializes a captured change for one rule. Deleted changes
// carry no data since the record may already be gone.
func BuildPayload(o *engine.Object, ev wire.EventType, ruleName string, now time.Time) wire.Payload {
	p := wire.Payload{
		EventType:   string(ev),
		ObjectType:  o.Entity.Name,
		ObjectKey:   o.Key(),
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		TriggerRule: ruleName,
	}
	if ev != wire.EventDeleted {
		p.Data = BuildData(o)
	}
	return p
}

// BuildData renders the object's members into wire values. The key is
// reported as objectKey and left out here. References become keys and
// nested structures are omitted.
func BuildData(o *engine.Object) map[string]any {
	data := make(map[string]any)
	for i := range o.Entity.Fields {
		f := &o.Entity.Fields[i]
		if o.Entity.IsKey(f.Name) || f.Internal || denied(f.Name) || !o.Has(f.Name) {
			continue
		}
		if v, ok := formatValue(f, o.Get(f.Name)); ok {
			data[f.Name] = v
		}
	}
	return data
}

func formatValue(f *metadata.Field, v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string, bool, int64, int, float64:
		if f.Type == metadata.TypeEnum {
			return enumName(f, val)
		}
		return val, true
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), true
	case uuid.UUID:
		return val.String(), true
	case *engine.Object:
		return val.Key(), true
	case map[string]any, []any:
		return nil, false
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, false
	}
	return s, true
}

func enumName(f *metadata.Field, v any) (any, bool) {
	if s, ok := v.(string); ok {
		if name, ok := f.EnumValue(s); ok {
			return name, true
		}
		return s, true
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return nil, false
	}
	name, ok := f.EnumName(i)
	return name, ok
}
