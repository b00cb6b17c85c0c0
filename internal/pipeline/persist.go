package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/entity-resolution-service/internal/events"
	"github.com/helixir/entity-resolution-service/internal/observability"
	"github.com/helixir/entity-resolution-service/internal/registry"
)

// Persister writes a registry to its store and forwards the events recorded
// since the last successful save.
type Persister struct {
	registry  *registry.Registry
	store     registry.Store
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewPersister creates a Persister. A nil publisher discards registry events.
func NewPersister(reg *registry.Registry, store registry.Store, publisher events.Publisher, metrics *observability.Metrics, logger zerolog.Logger) *Persister {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Persister{
		registry:  reg,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Persist saves the registry and then publishes the events recorded since the
// last successful save. Events stay pending when the save fails. Publishing
// failures are logged; the saved registry remains authoritative.
func (p *Persister) Persist(ctx context.Context) error {
	backend := registry.BackendName(p.store)

	start := time.Now()
	err := registry.Persist(ctx, p.store, p.registry)
	p.metrics.RecordRegistrySave(backend, time.Since(start), err)
	if err != nil {
		p.logger.Error().Err(err).Str("backend", backend).Msg("failed to persist registry")
		return fmt.Errorf("persist registry: %w", err)
	}
	p.metrics.SetRegistrySize(p.registry.CountByType())

	pending := p.registry.DrainEvents()
	if len(pending) == 0 {
		return nil
	}
	for _, ev := range pending {
		p.metrics.RecordRegistryMutation(ev.EventType)
	}
	if err := p.publisher.Publish(ctx, pending); err != nil {
		p.logger.Warn().Err(err).Int("events", len(pending)).Msg("failed to publish registry events")
	}
	return nil
}
