// Package registry holds the canonical entity registry: the in-memory working
// set used during a resolution session and the stores that persist it.
//
// A Registry is loaded once at session start, mutated by the resolver as
// names are matched, created, renamed and merged, and written back through a
// Store. It is not safe for concurrent use; a session has exactly one writer.
// Callers that share a Registry across goroutines (the HTTP admin API) must
// serialize access themselves.
package registry

import (
	"fmt"
	"slices"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

// Registry is the ordered in-memory collection of canonical entities.
// Iteration order is insertion order, which the matcher relies on for its
// stable tie-break.
type Registry struct {
	entities []*domain.Entity
	byID     map[string]*domain.Entity
	pending  []domain.RegistryEvent
}

// New creates a registry over the given entities. The entities are shared by
// reference; mutations through the registry are visible to the caller.
func New(entities []*domain.Entity) *Registry {
	r := &Registry{
		entities: make([]*domain.Entity, 0, len(entities)),
		byID:     make(map[string]*domain.Entity, len(entities)),
	}
	for _, e := range entities {
		if e == nil {
			continue
		}
		if _, dup := r.byID[e.ID]; dup {
			continue
		}
		if e.Variants == nil {
			e.Variants = []string{}
		}
		r.entities = append(r.entities, e)
		r.byID[e.ID] = e
	}
	return r
}

// Entities returns every entity in insertion order.
func (r *Registry) Entities() []*domain.Entity {
	return slices.Clone(r.entities)
}

// Len returns the number of entities.
func (r *Registry) Len() int {
	return len(r.entities)
}

// CountByType returns the number of entities per type. Every known type is
// present, possibly with a zero count.
func (r *Registry) CountByType() map[string]int {
	counts := make(map[string]int, len(domain.EntityTypes()))
	for _, t := range domain.EntityTypes() {
		counts[string(t)] = 0
	}
	for _, e := range r.entities {
		counts[string(e.Type)]++
	}
	return counts
}

// FilterByType returns the registry's entities of type t in insertion order.
func (r *Registry) FilterByType(t domain.EntityType) []*domain.Entity {
	return FilterByType(r.entities, t)
}

// FilterByType returns the subset of entities of type t, preserving order.
func FilterByType(entities []*domain.Entity, t domain.EntityType) []*domain.Entity {
	out := make([]*domain.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the entity with the given ID.
func (r *Registry) Get(id string) (*domain.Entity, error) {
	e, ok := r.byID[id]
	if !ok {
		return nil, domain.NewNotFoundError("entity", id)
	}
	return e, nil
}

// FindByStandardName returns the entity of type t whose standard name is
// exactly name.
func (r *Registry) FindByStandardName(t domain.EntityType, name string) (*domain.Entity, bool) {
	for _, e := range r.entities {
		if e.Type == t && e.StandardName == name {
			return e, true
		}
	}
	return nil, false
}

// variantOwner returns the entity of type t that lists s as a variant.
func (r *Registry) variantOwner(t domain.EntityType, s string) *domain.Entity {
	for _, e := range r.entities {
		if e.Type == t && e.HasVariant(s) {
			return e
		}
	}
	return nil
}

// claimVariant detaches s from whichever other entity of the same type holds
// it, so that a string is never a variant of two entities at once. The
// previous owner gets a variant_removed event.
func (r *Registry) claimVariant(owner *domain.Entity, s string) {
	prev := r.variantOwner(owner.Type, s)
	if prev == nil || prev == owner {
		return
	}
	prev.RemoveVariant(s)

	ev := domain.NewRegistryEvent(domain.EventTypeEntityVariantRemoved, prev)
	ev.Variant = s
	r.record(ev)
}

// Conflict is a registry inconsistency found at load time.
type Conflict struct {
	Type domain.EntityType
	// Field is "standard_name" or "variant".
	Field string
	Name  string
	IDs   []string
}

// Conflicts lists standard names shared by several entities of one type and
// variants listed by more than one entity of one type. Such registries still
// load; the matcher prefers the first entity in order.
func (r *Registry) Conflicts() []Conflict {
	type key struct {
		t     domain.EntityType
		field string
		name  string
	}
	owners := make(map[key][]string)
	var order []key
	add := func(k key, id string) {
		if _, ok := owners[k]; !ok {
			order = append(order, k)
		}
		owners[k] = append(owners[k], id)
	}
	for _, e := range r.entities {
		add(key{e.Type, "standard_name", e.StandardName}, e.ID)
		for _, v := range e.Variants {
			add(key{e.Type, "variant", v}, e.ID)
		}
	}

	var out []Conflict
	for _, k := range order {
		if ids := owners[k]; len(ids) > 1 {
			out = append(out, Conflict{Type: k.t, Field: k.field, Name: k.name, IDs: ids})
		}
	}
	return out
}

// Create adds a new entity of type t with the given standard name. The query
// string becomes a variant when it differs from the standard name. Creating a
// second entity with an existing standard name is rejected.
func (r *Registry) Create(t domain.EntityType, standardName, query string, attrs map[string]string) (*domain.Entity, error) {
	if !t.Valid() {
		return nil, domain.NewValidationError("type", fmt.Sprintf("unknown entity type %q", t))
	}
	if domain.IsBlank(standardName) {
		return nil, domain.NewValidationError("standard_name", "standard name is required")
	}
	if existing, ok := r.FindByStandardName(t, standardName); ok {
		return nil, domain.NewAlreadyExistsError(string(t), existing.StandardName)
	}

	e := domain.NewEntity(t, standardName, query, attrs)
	for _, v := range e.Variants {
		r.claimVariant(e, v)
	}
	r.entities = append(r.entities, e)
	r.byID[e.ID] = e
	r.record(domain.NewRegistryEvent(domain.EventTypeEntityCreated, e))
	return e, nil
}

// AttachVariant records s as a variant of the entity with the given ID. It
// reports whether the variant set changed.
func (r *Registry) AttachVariant(id, s string) (bool, error) {
	e, err := r.Get(id)
	if err != nil {
		return false, err
	}
	if e.HasVariant(s) || s == e.StandardName || s == "" {
		return false, nil
	}
	r.claimVariant(e, s)
	e.AddVariant(s)

	ev := domain.NewRegistryEvent(domain.EventTypeEntityVariantAdded, e)
	ev.Variant = s
	r.record(ev)
	return true, nil
}

// Rename changes an entity's standard name. The previous name is kept as a
// variant. The new name must not be the standard name of another entity of
// the same type; merge the two instead.
func (r *Registry) Rename(id, newName string) (*domain.Entity, error) {
	e, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if domain.IsBlank(newName) {
		return nil, domain.NewValidationError("standard_name", "standard name is required")
	}
	if newName == e.StandardName {
		return e, nil
	}
	if other, ok := r.FindByStandardName(e.Type, newName); ok && other.ID != e.ID {
		return nil, domain.NewAlreadyExistsError(string(e.Type), newName)
	}

	old := e.StandardName
	r.claimVariant(e, newName)
	e.RemoveVariant(newName)
	e.StandardName = newName
	r.claimVariant(e, old)
	e.AddVariant(old)

	ev := domain.NewRegistryEvent(domain.EventTypeEntityRenamed, e)
	ev.Variant = old
	r.record(ev)
	return e, nil
}

// Merge folds the source entity into the target. The target keeps its ID
// and standard name and gains the source's variants and, when distinct, the
// source's standard name. Target attributes that are empty are filled from
// the source. The source entity is removed.
func (r *Registry) Merge(sourceID, targetID string) (*domain.Entity, error) {
	if sourceID == targetID {
		return nil, domain.NewValidationError("target_id", "cannot merge an entity into itself")
	}
	src, err := r.Get(sourceID)
	if err != nil {
		return nil, err
	}
	dst, err := r.Get(targetID)
	if err != nil {
		return nil, err
	}
	if src.Type != dst.Type {
		return nil, domain.NewValidationError("target_id", fmt.Sprintf("cannot merge %s into %s", src.Type, dst.Type))
	}

	for _, v := range src.Variants {
		dst.AddVariant(v)
	}
	dst.AddVariant(src.StandardName)
	fillAttributes(dst, src)

	r.remove(src.ID)

	ev := domain.NewRegistryEvent(domain.EventTypeEntityMerged, dst)
	ev.MergedID = src.ID
	r.record(ev)
	return dst, nil
}

func fillAttributes(dst, src *domain.Entity) {
	attrs := dst.Attributes()
	from := src.Attributes()
	changed := false
	for k, v := range attrs {
		if v == "" && from[k] != "" {
			attrs[k] = from[k]
			changed = true
		}
	}
	if changed {
		dst.ApplyAttributes(attrs)
	}
}

func (r *Registry) remove(id string) {
	delete(r.byID, id)
	r.entities = slices.DeleteFunc(r.entities, func(e *domain.Entity) bool { return e.ID == id })
}

func (r *Registry) record(ev domain.RegistryEvent) {
	r.pending = append(r.pending, ev)
}

// DrainEvents returns and clears the events recorded since the last drain.
func (r *Registry) DrainEvents() []domain.RegistryEvent {
	out := r.pending
	r.pending = nil
	return out
}
