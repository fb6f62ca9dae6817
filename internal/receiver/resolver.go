// Package receiver applies incoming sync payloads to local syncable
// entities.
package receiver

import (
	"strings"
	"sync"

	"syncbridge/internal/config"
	"syncbridge/internal/metadata"
)

// MappingTable holds the code- and config-registered source type mappings.
type MappingTable struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMappingTable(mappings []config.TypeMappingConfig) *MappingTable {
	t := &MappingTable{m: make(map[string]string)}
	for _, m := range mappings {
		t.Add(m.Source, m.Local)
	}
	return t
}

// Add registers source -> local. Source names match case-insensitively.
func (t *MappingTable) Add(source, local string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[strings.ToLower(strings.TrimSpace(source))] = strings.TrimSpace(local)
}

func (t *MappingTable) Lookup(source string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	local, ok := t.m[strings.ToLower(strings.TrimSpace(source))]
	return local, ok
}

// TypeResolver maps a source type name to a local entity.
type TypeResolver struct {
	registry *metadata.Registry
	table    *MappingTable
}

func NewTypeResolver(reg *metadata.Registry, table *MappingTable) *TypeResolver {
	if table == nil {
		table = NewMappingTable(nil)
	}
	return &TypeResolver{registry: reg, table: table}
}

// Resolve tries, in order: an active database mapping whose local type
// exists, the in-process mapping table, then the source name itself.
// It returns nil when nothing matches.
func (r *TypeResolver) Resolve(sourceType string) *metadata.Entity {
	if m := r.registry.ActiveTypeMapping(sourceType); m != nil {
		if e := r.registry.FindEntity(m.LocalType); e != nil {
			return e
		}
	}
	if local, ok := r.table.Lookup(sourceType); ok {
		if e := r.registry.FindEntity(local); e != nil {
			return e
		}
	}
	return r.registry.FindEntity(sourceType)
}
