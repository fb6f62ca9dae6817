package engine

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"syncbridge/internal/metadata"
)

// Object is one record tracked by a UnitOfWork. Values hold Go-native types
// per field kind: uuid.UUID, time.Time, int64, float64, bool, string, and
// the enum name. A ref field may hold the referenced *Object or its key.
type Object struct {
	Entity *metadata.Entity

	values map[string]any
	dirty  map[string]bool
	uow    *UnitOfWork
}

func newObject(uow *UnitOfWork, entity *metadata.Entity) *Object {
	return &Object{
		Entity: entity,
		values: make(map[string]any),
		dirty:  make(map[string]bool),
		uow:    uow,
	}
}

// Get returns the current value of a field.
func (o *Object) Get(name string) any {
	return o.values[name]
}

// Has reports whether a value was loaded or assigned for the field.
func (o *Object) Has(name string) bool {
	_, ok := o.values[name]
	return ok
}

// Set assigns a field value and marks the object modified in its unit of work.
func (o *Object) Set(name string, v any) {
	o.values[name] = v
	o.dirty[name] = true
	if o.uow != nil {
		o.uow.markModified(o)
	}
}

// Values returns a copy of the field values.
func (o *Object) Values() map[string]any {
	out := make(map[string]any, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

// KeyValue returns the raw primary key value.
func (o *Object) KeyValue() any {
	return o.values[o.Entity.PrimaryKey.Field]
}

// Key returns the primary key in string form.
func (o *Object) Key() string {
	return FormatKey(o.KeyValue())
}

// FormatKey renders a primary key value as a string.
func FormatKey(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case uuid.UUID:
		return k.String()
	case string:
		return k
	case int64:
		return strconv.FormatInt(k, 10)
	case int:
		return strconv.Itoa(k)
	case *Object:
		return k.Key()
	default:
		return fmt.Sprint(k)
	}
}

func (o *Object) clean() {
	o.dirty = make(map[string]bool)
}
