package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/entity-resolution-service/internal/config"
	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/observability"
)

const sourceHeader = "entity-resolution-service"

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes registry events as JSON messages keyed by entity ID,
// so every event of one entity lands on the same partition in order.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg config.KafkaConfig, metrics *observability.Metrics, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
	}

	return newKafkaPublisher(writer, cfg.Topic, metrics, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, metrics *observability.Metrics, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  w,
		topic:   topic,
		metrics: metrics,
		logger:  logger.With().Str("component", "kafka_publisher").Str("topic", topic).Logger(),
	}
}

// Publish writes events in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events []domain.RegistryEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := ev.Payload()
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.EventID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.EntityID),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.EventType)},
				{Key: "event_id", Value: []byte(ev.EventID)},
				{Key: "source", Value: []byte(sourceHeader)},
			},
			Time: ev.OccurredAt,
		})
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	for _, ev := range events {
		p.metrics.RecordEventPublished(ev.EventType, err)
	}
	if err != nil {
		p.logger.Error().Err(err).Int("count", len(events)).Msg("failed to publish registry events")
		return fmt.Errorf("publish %d events to %s: %w", len(events), p.topic, err)
	}

	p.logger.Debug().Int("count", len(events)).Msg("published registry events")
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info().Msg("closing kafka publisher")
	return p.writer.Close()
}
