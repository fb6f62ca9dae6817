// Package trigger captures committed changes and delivers them to the
// webhooks configured by trigger rules.
package trigger

import (
	"syncbridge/internal/engine"
	"syncbridge/internal/wire"
)

// ChangeSource is the part of a unit of work the recorder reads.
type ChangeSource interface {
	ModifiedObjects() []*engine.Object
	ObjectsToDelete() []*engine.Object
	IsNewObject(o *engine.Object) bool
	IsObjectToDelete(o *engine.Object) bool
}

// Change is one captured object and how it changed.
type Change struct {
	Object *engine.Object
	Event  wire.EventType
}

// CaptureChanges classifies every pending object. It must run before the
// unit of work flushes, since afterwards new objects look like loaded ones.
// Objects are de-duplicated by identity. System entities are skipped.
func CaptureChanges(src ChangeSource) []Change {
	seen := make(map[*engine.Object]bool)
	var changes []Change

	add := func(o *engine.Object) {
		if o == nil || seen[o] || o.Entity.System {
			return
		}
		seen[o] = true

		ev := wire.EventModified
		switch {
		case src.IsObjectToDelete(o):
			ev = wire.EventDeleted
		case src.IsNewObject(o):
			ev = wire.EventCreated
		}
		changes = append(changes, Change{Object: o, Event: ev})
	}

	for _, o := range src.ModifiedObjects() {
		add(o)
	}
	for _, o := range src.ObjectsToDelete() {
		add(o)
	}
	return changes
}
