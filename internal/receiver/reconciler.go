package receiver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"syncbridge/internal/engine"
	"syncbridge/internal/metadata"
	"syncbridge/internal/metrics"
	"syncbridge/internal/store"
	"syncbridge/internal/wire"
)

var (
	ErrInvalidEventType = errors.New("invalid event type")
	ErrUnknownType      = errors.New("unknown object type")
	ErrNotSyncable      = errors.New("type is not syncable")
	ErrMalformedKey     = errors.New("malformed object key")
	ErrAlreadyExists    = errors.New("object already exists")
	ErrApply            = errors.New("sync apply failed")
)

// Result is the outcome reported back to the sender.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	Err error `json:"-"`
}

func success(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

func failure(err error, format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...), Err: err}
}

// Reconciler applies Created, Modified and Deleted payloads idempotently.
type Reconciler struct {
	store    *store.Store
	registry *metadata.Registry
	resolver *TypeResolver
	coercer  *ValueCoercer
	locker   KeyLocker
	metrics  metrics.Sink
	now      func() time.Time
}

func NewReconciler(s *store.Store, reg *metadata.Registry, resolver *TypeResolver, locker KeyLocker, sink metrics.Sink) *Reconciler {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Reconciler{
		store:    s,
		registry: reg,
		resolver: resolver,
		coercer:  NewValueCoercer(),
		locker:   locker,
		metrics:  sink,
		now:      time.Now,
	}
}

// Apply reconciles one payload. It never returns an error; failures are
// reported in the Result.
func (r *Reconciler) Apply(ctx context.Context, p *wire.Payload) Result {
	res := r.apply(ctx, p)
	r.metrics.ReconcileCompleted(p.EventType, res.Success)
	return res
}

func (r *Reconciler) apply(ctx context.Context, p *wire.Payload) Result {
	ev, err := p.Event()
	if err != nil {
		return failure(ErrInvalidEventType, "Invalid event type: %s", p.EventType)
	}
	p.EventType = string(ev)
	if ev == wire.EventTest {
		return success("Test webhook received")
	}

	entity := r.resolver.Resolve(p.ObjectType)
	if entity == nil {
		return failure(ErrUnknownType, "Unknown object type: %s. Add a type mapping for it.", p.ObjectType)
	}
	if !entity.Syncable {
		return failure(ErrNotSyncable, "Type %s is not syncable.", p.ObjectType)
	}
	oid, err := uuid.Parse(strings.TrimSpace(p.ObjectKey))
	if err != nil {
		return failure(ErrMalformedKey, "Invalid object key (must be a valid GUID): %s", p.ObjectKey)
	}

	unlock, err := r.locker.Lock(ctx, entity.Name+":"+oid.String())
	if err != nil {
		return failure(ErrApply, "Error processing sync: %v", err)
	}
	defer unlock()

	switch ev {
	case wire.EventCreated:
		return r.created(ctx, entity, oid, p.Data)
	case wire.EventModified:
		return r.modified(ctx, entity, oid, p.Data)
	default:
		return r.deleted(ctx, entity, oid)
	}
}

func (r *Reconciler) newUnitOfWork() *engine.UnitOfWork {
	// No trigger hooks: synced records must not echo back to the sender.
	return engine.NewUnitOfWork(r.store, r.registry, engine.AllowReadOnly(), engine.SkipValidation())
}

func (r *Reconciler) created(ctx context.Context, entity *metadata.Entity, oid uuid.UUID, data map[string]any) Result {
	uow := r.newUnitOfWork()
	_, err := uow.Get(ctx, entity, oid)
	if err == nil {
		return failure(ErrAlreadyExists, "Object with Oid %s already exists. Use 'Modified' event to update.", oid)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return failure(ErrApply, "Error processing sync: %v", err)
	}

	o := uow.NewWithKey(entity, oid)
	o.Set(metadata.SyncedAtField, r.now().UTC())
	r.coercer.Apply(ctx, uow, o, data)

	if err := uow.Commit(ctx); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) && r.exists(ctx, entity, oid) {
			return failure(ErrAlreadyExists, "Object with Oid %s already exists. Use 'Modified' event to update.", oid)
		}
		return failure(ErrApply, "Error processing sync: %v", err)
	}
	return success("Successfully created object with Oid %s", oid)
}

func (r *Reconciler) exists(ctx context.Context, entity *metadata.Entity, oid uuid.UUID) bool {
	_, err := r.newUnitOfWork().Get(ctx, entity, oid)
	return err == nil
}

// modified updates in place, or creates the record when it is absent.
func (r *Reconciler) modified(ctx context.Context, entity *metadata.Entity, oid uuid.UUID, data map[string]any) Result {
	uow := r.newUnitOfWork()
	o, err := uow.Get(ctx, entity, oid)
	if errors.Is(err, store.ErrNotFound) {
		res := r.created(ctx, entity, oid, data)
		if !errors.Is(res.Err, ErrAlreadyExists) {
			return res
		}
		// Another replica created it between our read and insert.
		log.Printf("WARN: sync %s %s: lost create race, retrying as update", entity.Name, oid)
		uow = r.newUnitOfWork()
		o, err = uow.Get(ctx, entity, oid)
	}
	if err != nil {
		return failure(ErrApply, "Error processing sync: %v", err)
	}

	r.coercer.Apply(ctx, uow, o, data)
	o.Set(metadata.SyncedAtField, r.now().UTC())
	if err := uow.Commit(ctx); err != nil {
		return failure(ErrApply, "Error processing sync: %v", err)
	}
	return success("Successfully modified object with Oid %s", oid)
}

func (r *Reconciler) deleted(ctx context.Context, entity *metadata.Entity, oid uuid.UUID) Result {
	uow := r.newUnitOfWork()
	o, err := uow.Get(ctx, entity, oid)
	if errors.Is(err, store.ErrNotFound) {
		return success("Object with Oid %s not found (already deleted or never existed).", oid)
	}
	if err != nil {
		return failure(ErrApply, "Error processing sync: %v", err)
	}

	uow.Delete(o)
	if err := uow.Commit(ctx); err != nil {
		return failure(ErrApply, "Error processing sync: %v", err)
	}
	return success("Successfully deleted object with Oid %s", oid)
}
