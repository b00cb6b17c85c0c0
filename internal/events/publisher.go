// Package events delivers registry change events to downstream consumers.
package events

import (
	"context"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

// Publisher delivers registry events.
type Publisher interface {
	// Publish delivers events in order. An error means some events may not
	// have been delivered.
	Publish(ctx context.Context, events []domain.RegistryEvent) error
	// Close flushes pending events and releases resources.
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, []domain.RegistryEvent) error { return nil }

// Close does nothing.
func (NopPublisher) Close() error { return nil }
