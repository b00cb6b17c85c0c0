package registry

import (
	"context"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

// Store persists the full entity collection.
//
// Load returns an empty collection when the underlying storage is absent or
// unreadable as a registry; corruption is never fatal. Save overwrites the
// previous content atomically from the caller's point of view.
type Store interface {
	Load(ctx context.Context) ([]*domain.Entity, error)
	Save(ctx context.Context, entities []*domain.Entity) error
}

// Open loads a registry from the store.
func Open(ctx context.Context, s Store) (*Registry, error) {
	entities, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return New(entities), nil
}

// Persist writes the registry back to the store.
func Persist(ctx context.Context, s Store, r *Registry) error {
	return s.Save(ctx, r.Entities())
}

// BackendName returns the store's backend label for logs and metrics.
func BackendName(s Store) string {
	if b, ok := s.(interface{ Backend() string }); ok {
		return b.Backend()
	}
	return "custom"
}
