// Package pipeline resolves the names of a batch of paper records against the
// entity registry and keeps the registry persisted while doing so.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/events"
	"github.com/helixir/entity-resolution-service/internal/observability"
	"github.com/helixir/entity-resolution-service/internal/registry"
	"github.com/helixir/entity-resolution-service/internal/resolver"
)

// Options controls batch behavior.
type Options struct {
	// CleanInput applies domain.CleanText to every incoming name.
	CleanInput bool
	// PersistEveryRecord saves the registry after each record, so an
	// interrupted batch can be re-run from the last completed record.
	PersistEveryRecord bool
}

// Pipeline runs the resolver over records.
type Pipeline struct {
	resolver  *resolver.Resolver
	persister *Persister
	opts      Options
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// New creates a pipeline. A nil publisher discards registry events.
func New(res *resolver.Resolver, store registry.Store, publisher events.Publisher, opts Options, metrics *observability.Metrics, logger zerolog.Logger) *Pipeline {
	logger = logger.With().Str("component", "pipeline").Logger()
	return &Pipeline{
		resolver:  res,
		persister: NewPersister(res.Registry(), store, publisher, metrics, logger),
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run resolves every record in order and returns the resolved records. On
// error it returns the records completed so far. The registry is persisted
// once more before Run returns, whatever the outcome.
func (p *Pipeline) Run(ctx context.Context, records []domain.Record) (out []domain.Record, err error) {
	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	logger := observability.LoggerFromContext(ctx, p.logger)

	start := time.Now()
	logger.Info().Int("records", len(records)).Msg("starting batch")

	defer func() {
		if perr := p.Persist(context.WithoutCancel(ctx)); perr != nil {
			err = errors.Join(err, perr)
		}
		logger.Info().
			Int("resolved", len(out)).
			Int("records", len(records)).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("batch finished")
	}()

	out = make([]domain.Record, 0, len(records))
	for i := range records {
		resolved, rerr := p.ResolveRecord(ctx, &records[i])
		if rerr != nil {
			return out, fmt.Errorf("record %d (%s): %w", i, records[i].URL, rerr)
		}
		out = append(out, resolved)
		p.metrics.RecordRecordProcessed()

		if p.opts.PersistEveryRecord {
			if perr := p.Persist(ctx); perr != nil {
				return out, perr
			}
		}
	}
	return out, nil
}

// ResolveRecord resolves the authors, affiliations and journal of rec.
// Authors and affiliations that resolve to an empty value are dropped; the
// journal may resolve to "".
func (p *Pipeline) ResolveRecord(ctx context.Context, rec *domain.Record) (domain.Record, error) {
	ctx = observability.WithRecordURL(ctx, rec.URL)

	authors, err := p.resolveAll(ctx, domain.EntityTypeAuthor, rec.Authors, rec.URL)
	if err != nil {
		return domain.Record{}, err
	}
	affiliations, err := p.resolveAll(ctx, domain.EntityTypeAffiliation, rec.Affiliations, rec.URL)
	if err != nil {
		return domain.Record{}, err
	}
	journal, err := p.resolveOne(ctx, domain.EntityTypeJournal, rec.Journal, rec.URL)
	if err != nil {
		return domain.Record{}, err
	}

	return rec.WithNames(authors, affiliations, journal), nil
}

func (p *Pipeline) resolveAll(ctx context.Context, t domain.EntityType, names []string, url string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		resolved, err := p.resolveOne(ctx, t, name, url)
		if err != nil {
			return nil, err
		}
		if resolved != "" {
			out = append(out, resolved)
		}
	}
	return out, nil
}

func (p *Pipeline) resolveOne(ctx context.Context, t domain.EntityType, name, url string) (string, error) {
	if p.opts.CleanInput {
		name = domain.CleanText(name)
	}
	res, err := p.resolver.Resolve(ctx, t, name, url)
	if err != nil {
		return "", fmt.Errorf("resolve %s %q: %w", t, name, err)
	}
	return res.Name, nil
}

// Persist saves the registry and publishes pending events.
func (p *Pipeline) Persist(ctx context.Context) error {
	return p.persister.Persist(ctx)
}
