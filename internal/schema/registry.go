package schema

import (
	"fmt"
	"sort"
)

// Registry holds all registered lists and resolves relation references
// after registration. Lists reference each other by key, so cycles in the
// relationship graph are fine; everything is bound by lookup, not
// containment.
type Registry struct {
	lists    map[string]*List
	resolved bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{lists: make(map[string]*List)}
}

// Register adds a list. Registering after ResolveRelations, or reusing a
// key, is a configuration error.
func (r *Registry) Register(l *List) error {
	if r.resolved {
		return fmt.Errorf("schema: register %q after relations were resolved", l.Key)
	}
	if _, dup := r.lists[l.Key]; dup {
		return fmt.Errorf("schema: duplicate list %q", l.Key)
	}
	r.lists[l.Key] = l
	return nil
}

// Get returns a list by key, or nil.
func (r *Registry) Get(key string) *List {
	return r.lists[key]
}

// Keys returns all list keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.lists))
	for k := range r.lists {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResolveRelations binds every relation field to its related list and
// validates relation wiring. Must run exactly once, after all lists are
// registered.
func (r *Registry) ResolveRelations() error {
	if r.resolved {
		return fmt.Errorf("schema: relations already resolved")
	}
	for _, key := range r.Keys() {
		l := r.lists[key]
		for _, fk := range l.FieldKeys() {
			f := l.Fields[fk]
			if f.Kind != KindRelation {
				continue
			}
			related, ok := r.lists[f.Ref]
			if !ok {
				return fmt.Errorf("schema: list %q field %q references unknown list %q", l.Key, f.Key, f.Ref)
			}
			if f.Many && f.ForeignKey == "" {
				return fmt.Errorf("schema: list %q field %q is to-many but has no foreign key", l.Key, f.Key)
			}
			f.related = related
		}
	}
	r.resolved = true
	return nil
}
