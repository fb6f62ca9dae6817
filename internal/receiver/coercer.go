package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"syncbridge/internal/engine"
	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
)

// ValueCoercer assigns wire data to an object field by field. A value that
// cannot be converted leaves its field untouched. References resolve
// against the unit of work's registry.
type ValueCoercer struct{}

func NewValueCoercer() *ValueCoercer {
	return &ValueCoercer{}
}

// Apply sets every coercible member of data on o and returns the names
// that were set.
func (c *ValueCoercer) Apply(ctx context.Context, uow *engine.UnitOfWork, o *engine.Object, data map[string]any) []string {
	var applied []string
	for name, raw := range data {
		f := o.Entity.FindField(name)
		if f == nil || o.Entity.IsKey(f.Name) || f.Name == metadata.SyncedAtField || f.NonPersistent || f.Internal {
			continue
		}
		v, err := c.Coerce(ctx, uow, f, raw)
		if err != nil {
			log.Printf("WARN: sync %s %s: skipping %s: %v", o.Entity.Name, o.Key(), name, err)
			continue
		}
		o.Set(f.Name, v)
		applied = append(applied, f.Name)
	}
	return applied
}

// Coerce converts one wire value to the field's kind.
func (c *ValueCoercer) Coerce(ctx context.Context, uow *engine.UnitOfWork, f *metadata.Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	if f.Type == metadata.TypeRef {
		return c.reference(ctx, uow, f, raw)
	}

	if n, ok := raw.(json.Number); ok {
		switch f.Type {
		case metadata.TypeInt, metadata.TypeBigInt:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			fv, err := n.Float64()
			if err != nil {
				return nil, err
			}
			return cast.ToInt64E(fv)
		case metadata.TypeFloat, metadata.TypeDecimal:
			return n.Float64()
		case metadata.TypeString, metadata.TypeText:
			return n.String(), nil
		case metadata.TypeEnum:
			i, err := n.Int64()
			if err != nil {
				return nil, err
			}
			return engine.NormalizeValue(f, i)
		}
		raw = n.String()
	}

	return engine.NormalizeValue(f, raw)
}

// reference resolves a key to the tracked object when the target is
// syncable. A key with no local record resolves to nil.
func (c *ValueCoercer) reference(ctx context.Context, uow *engine.UnitOfWork, f *metadata.Field, raw any) (any, error) {
	s, err := cast.ToStringE(raw)
	if err != nil {
		return nil, err
	}
	target := uow.Registry().FindEntity(f.Ref)
	if target == nil || !target.Syncable {
		return engine.NormalizeValue(f, s)
	}
	key, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("reference key %q: %w", s, err)
	}
	obj, err := uow.Get(ctx, target, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return obj, nil
}
