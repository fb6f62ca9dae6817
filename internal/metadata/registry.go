package metadata

import (
	"strings"
	"sync"
)

// Registry holds the loaded schema, trigger rules and type mappings. Readers
// get snapshots; Load* replaces whole maps under the write lock.
type Registry struct {
	mu        sync.RWMutex
	entities  map[string]*Entity
	rules     []*TriggerRule
	rulesByID map[string]*TriggerRule
	mappings  map[string]*TypeMapping // keyed by lower-cased source type
}

func NewRegistry() *Registry {
	return &Registry{
		entities:  make(map[string]*Entity),
		rulesByID: make(map[string]*TriggerRule),
		mappings:  make(map[string]*TypeMapping),
	}
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// FindEntity resolves a type name exactly, then ignoring case.
func (r *Registry) FindEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entities[name]; ok {
		return e
	}
	for n, e := range r.entities {
		if strings.EqualFold(n, name) {
			return e
		}
	}
	return nil
}

// AllEntities returns all registered entities.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	return entities
}

// Load replaces all entities in the registry.
// Called during startup and after admin mutations.
func (r *Registry) Load(entities []*Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]*Entity, len(entities))
	for _, e := range entities {
		r.entities[e.Name] = e
	}
}

// LoadTriggerRules replaces the rule table.
func (r *Registry) LoadTriggerRules(rules []*TriggerRule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules = rules
	r.rulesByID = make(map[string]*TriggerRule, len(rules))
	for _, rule := range rules {
		r.rulesByID[rule.ID] = rule
	}
}

// ActiveTriggerRules returns the rules with the active flag set.
func (r *Registry) ActiveTriggerRules() []*TriggerRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := make([]*TriggerRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.Active {
			active = append(active, rule)
		}
	}
	return active
}

// AllTriggerRules returns every loaded rule.
func (r *Registry) AllTriggerRules() []*TriggerRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*TriggerRule(nil), r.rules...)
}

// GetTriggerRule returns a rule by id, or nil.
func (r *Registry) GetTriggerRule(id string) *TriggerRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rulesByID[id]
}

// LoadTypeMappings replaces the database-configured mappings.
func (r *Registry) LoadTypeMappings(mappings []*TypeMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mappings = make(map[string]*TypeMapping, len(mappings))
	for _, m := range mappings {
		r.mappings[strings.ToLower(m.SourceType)] = m
	}
}

// ActiveTypeMapping returns the active mapping for a source type, or nil.
func (r *Registry) ActiveTypeMapping(sourceType string) *TypeMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.mappings[strings.ToLower(sourceType)]
	if m == nil || !m.Active {
		return nil
	}
	return m
}
