package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
)

type objectStatus int

const (
	statusLoaded objectStatus = iota
	statusNew
	statusDeleted
)

// CommitHook observes the commit lifecycle of a unit of work. BeforeCommit
// runs before any SQL is issued and may veto the commit. Exactly one of
// AfterCommit or AbortCommit follows for every hook whose BeforeCommit ran.
type CommitHook interface {
	BeforeCommit(ctx context.Context, op *CommitOperation) error
	AfterCommit(ctx context.Context, op *CommitOperation)
	AbortCommit(ctx context.Context, op *CommitOperation)
}

// HookFactory builds fresh hooks for each unit of work.
type HookFactory func() []CommitHook

// CommitOperation is the per-commit context handed to hooks. Hooks keep
// state between phases with Set and Get.
type CommitOperation struct {
	UnitOfWork *UnitOfWork

	state map[any]any
}

func (op *CommitOperation) Set(key, value any) {
	op.state[key] = value
}

func (op *CommitOperation) Get(key any) any {
	return op.state[key]
}

type Option func(*UnitOfWork)

// WithHooks attaches commit hooks.
func WithHooks(hooks ...CommitHook) Option {
	return func(u *UnitOfWork) {
		u.hooks = append(u.hooks, hooks...)
	}
}

// AllowReadOnly lets the unit of work write to read-only entities. Only the
// sync receiver uses it.
func AllowReadOnly() Option {
	return func(u *UnitOfWork) {
		u.allowReadOnly = true
	}
}

// SkipValidation disables required-field and expression checks on commit.
// Synced records carry whatever the sender had; a field that could not be
// coerced stays unset rather than failing the record.
func SkipValidation() Option {
	return func(u *UnitOfWork) {
		u.skipValidation = true
	}
}

// UnitOfWork tracks new, modified and deleted objects and writes them in one
// transaction on Commit.
type UnitOfWork struct {
	store    *store.Store
	registry *metadata.Registry

	hooks          []CommitHook
	allowReadOnly  bool
	skipValidation bool

	identity map[string]*Object
	status   map[*Object]objectStatus
	modified []*Object
	touched  map[*Object]bool
}

func NewUnitOfWork(s *store.Store, reg *metadata.Registry, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		store:    s,
		registry: reg,
		identity: make(map[string]*Object),
		status:   make(map[*Object]objectStatus),
		touched:  make(map[*Object]bool),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func identityKey(e *metadata.Entity, key string) string {
	return e.Name + "\x00" + key
}

// New creates an object that will be inserted on commit. UUID keys are
// assigned immediately. Other generated keys come back from the insert.
func (u *UnitOfWork) New(entity *metadata.Entity) *Object {
	var key any
	if entity.PrimaryKey.Type == metadata.TypeUUID {
		key = uuid.New()
	}
	return u.NewWithKey(entity, key)
}

// NewWithKey creates an object with a caller-supplied key.
func (u *UnitOfWork) NewWithKey(entity *metadata.Entity, key any) *Object {
	o := newObject(u, entity)
	if key != nil {
		o.values[entity.PrimaryKey.Field] = key
		u.identity[identityKey(entity, FormatKey(key))] = o
	}
	u.status[o] = statusNew
	u.markModified(o)
	return o
}

// Get loads an object by key, returning the tracked instance if present.
// A missing row yields store.ErrNotFound.
func (u *UnitOfWork) Get(ctx context.Context, entity *metadata.Entity, key any) (*Object, error) {
	if o, ok := u.identity[identityKey(entity, FormatKey(key))]; ok {
		if u.status[o] == statusDeleted {
			return nil, store.ErrNotFound
		}
		return o, nil
	}

	q, err := buildSelectByKeySQL(u.store.Dialect, entity, key)
	if err != nil {
		return nil, err
	}
	row, err := store.QueryRow(ctx, u.store.DB, q.SQL, q.Params...)
	if err != nil {
		return nil, err
	}

	o := newObject(u, entity)
	o.values = rowToValues(entity, row)
	u.identity[identityKey(entity, o.Key())] = o
	u.status[o] = statusLoaded
	return o, nil
}

// Delete schedules an object for deletion. Deleting an object that was
// never saved simply forgets it.
func (u *UnitOfWork) Delete(o *Object) {
	if u.status[o] == statusNew {
		delete(u.identity, identityKey(o.Entity, o.Key()))
		delete(u.status, o)
		u.forget(o)
		return
	}
	u.status[o] = statusDeleted
	u.markModified(o)
}

func (u *UnitOfWork) markModified(o *Object) {
	if u.touched[o] {
		return
	}
	u.touched[o] = true
	u.modified = append(u.modified, o)
}

func (u *UnitOfWork) forget(o *Object) {
	if !u.touched[o] {
		return
	}
	delete(u.touched, o)
	for i, m := range u.modified {
		if m == o {
			u.modified = append(u.modified[:i], u.modified[i+1:]...)
			break
		}
	}
}

// ModifiedObjects returns every object that will be written on commit,
// deletions included, in the order they were first touched.
func (u *UnitOfWork) ModifiedObjects() []*Object {
	out := make([]*Object, len(u.modified))
	copy(out, u.modified)
	return out
}

// ObjectsToDelete returns the objects scheduled for deletion.
func (u *UnitOfWork) ObjectsToDelete() []*Object {
	var out []*Object
	for _, o := range u.modified {
		if u.status[o] == statusDeleted {
			out = append(out, o)
		}
	}
	return out
}

func (u *UnitOfWork) IsNewObject(o *Object) bool {
	return u.status[o] == statusNew
}

func (u *UnitOfWork) IsObjectToDelete(o *Object) bool {
	return u.status[o] == statusDeleted
}

// Registry returns the metadata registry the unit of work resolves against.
func (u *UnitOfWork) Registry() *metadata.Registry {
	return u.registry
}

// Commit validates and writes all pending changes in a single transaction.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if len(u.modified) == 0 {
		return nil
	}

	if err := u.validate(); err != nil {
		return err
	}

	op := &CommitOperation{UnitOfWork: u, state: make(map[any]any)}
	for i, h := range u.hooks {
		if err := h.BeforeCommit(ctx, op); err != nil {
			u.abort(ctx, op, u.hooks[:i+1])
			return err
		}
	}

	if err := u.write(ctx); err != nil {
		u.abort(ctx, op, u.hooks)
		return err
	}

	u.reset()
	for _, h := range u.hooks {
		h.AfterCommit(ctx, op)
	}
	return nil
}

func (u *UnitOfWork) abort(ctx context.Context, op *CommitOperation, hooks []CommitHook) {
	for _, h := range hooks {
		h.AbortCommit(ctx, op)
	}
}

func (u *UnitOfWork) write(ctx context.Context) error {
	tx, err := u.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	d := u.store.Dialect
	for _, o := range u.modified {
		switch u.status[o] {
		case statusDeleted:
			q, err := buildDeleteSQL(d, o.Entity, o.KeyValue())
			if err != nil {
				return err
			}
			if _, err := store.Exec(ctx, tx, q.SQL, q.Params...); err != nil {
				return u.writeError(o, err)
			}

		case statusNew:
			q, err := buildInsertSQL(d, o)
			if err != nil {
				return err
			}
			if o.KeyValue() == nil {
				row, err := store.QueryRow(ctx, tx, q.SQL, q.Params...)
				if err != nil {
					return u.writeError(o, err)
				}
				f := o.Entity.GetField(o.Entity.PrimaryKey.Field)
				key, err := NormalizeValue(f, row[o.Entity.PrimaryKey.Field])
				if err != nil {
					return fmt.Errorf("generated key for %s: %w", o.Entity.Name, err)
				}
				o.values[o.Entity.PrimaryKey.Field] = key
			} else if _, err := store.Exec(ctx, tx, q.SQL, q.Params...); err != nil {
				return u.writeError(o, err)
			}

		default:
			q, ok, err := buildUpdateSQL(d, o)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			n, err := store.Exec(ctx, tx, q.SQL, q.Params...)
			if err != nil {
				return u.writeError(o, err)
			}
			if n == 0 {
				return NotFoundError(o.Entity.Name, o.Key())
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (u *UnitOfWork) writeError(o *Object, err error) error {
	mapped := store.MapError(u.store.Dialect, err)
	if errors.Is(mapped, store.ErrUniqueViolation) {
		return ConflictError(fmt.Sprintf("%s with this value already exists", o.Entity.Name), mapped)
	}
	log.Printf("ERROR: write %s/%s: %v", o.Entity.Name, o.Key(), err)
	return fmt.Errorf("write %s/%s: %w", o.Entity.Name, o.Key(), err)
}

func (u *UnitOfWork) reset() {
	for _, o := range u.modified {
		if u.status[o] == statusDeleted {
			delete(u.identity, identityKey(o.Entity, o.Key()))
			delete(u.status, o)
		} else {
			u.status[o] = statusLoaded
			u.identity[identityKey(o.Entity, o.Key())] = o
		}
		o.clean()
	}
	u.modified = nil
	u.touched = make(map[*Object]bool)
}
