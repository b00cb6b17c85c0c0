package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Registry event types.
const (
	EventTypeEntityCreated        = "entity.created"
	EventTypeEntityVariantAdded   = "entity.variant_added"
	EventTypeEntityVariantRemoved = "entity.variant_removed"
	EventTypeEntityRenamed        = "entity.renamed"
	EventTypeEntityMerged         = "entity.merged"
)

// RegistryEvent describes one mutation of the entity registry. Downstream
// consumers (the graph loader) use it to keep their node set in sync.
type RegistryEvent struct {
	EventID    string     `json:"event_id"`
	EventType  string     `json:"event_type"`
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	// StandardName is the entity's canonical name after the mutation.
	StandardName string `json:"standard_name"`
	// Variant is the attached or detached variant (variant_added,
	// variant_removed) or the previous standard name (renamed).
	Variant string `json:"variant,omitempty"`
	// MergedID is the ID of the entity that was absorbed (merged).
	MergedID   string    `json:"merged_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewRegistryEvent creates an event for the given entity.
func NewRegistryEvent(eventType string, e *Entity) RegistryEvent {
	return RegistryEvent{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EntityID:     e.ID,
		EntityType:   e.Type,
		StandardName: e.StandardName,
		OccurredAt:   time.Now().UTC(),
	}
}

// Payload returns the JSON encoding of the event.
func (e RegistryEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}
