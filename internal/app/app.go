// Package app wires configuration into the components shared by the
// command-line tools: registry store, embedder, resolver and event publisher.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/helixir/entity-resolution-service/internal/config"
	"github.com/helixir/entity-resolution-service/internal/database"
	"github.com/helixir/entity-resolution-service/internal/embedding"
	"github.com/helixir/entity-resolution-service/internal/events"
	"github.com/helixir/entity-resolution-service/internal/observability"
	"github.com/helixir/entity-resolution-service/internal/pipeline"
	"github.com/helixir/entity-resolution-service/internal/qdrant"
	"github.com/helixir/entity-resolution-service/internal/registry"
	"github.com/helixir/entity-resolution-service/internal/resolver"
)

// App holds the components of one session. Close releases them in reverse
// order of creation.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
	Store     registry.Store
	DB        *database.DB
	Registry  *registry.Registry
	Embedder  *embedding.CachingEmbedder
	Publisher events.Publisher

	closers []func() error
}

// NewLogger builds the logger described by cfg.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	return observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		AddSource:  cfg.AddSource,
		TimeFormat: cfg.TimeFormat,
	})
}

// New opens the registry store, loads the registry and creates the event
// publisher. The embedder is created on the first call to Resolver. reg
// receives the metrics; nil leaves them unregistered.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger zerolog.Logger) (_ *App, err error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(cfg.Metrics.Namespace, reg),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.Registry, err = registry.Open(ctx, a.Store)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	a.Metrics.SetRegistrySize(a.Registry.CountByType())
	logger.Info().
		Str("backend", registry.BackendName(a.Store)).
		Int("entities", a.Registry.Len()).
		Msg("registry loaded")
	for _, c := range a.Registry.Conflicts() {
		logger.Warn().
			Str("entity_type", string(c.Type)).
			Str("field", c.Field).
			Str("name", c.Name).
			Strs("entity_ids", c.IDs).
			Msg("registry name held by more than one entity")
	}

	if err := a.openPublisher(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch strings.ToLower(a.Config.Registry.Backend) {
	case config.RegistryBackendFile:
		a.Store = registry.NewFileStore(a.Config.Registry.Path, a.Logger)
		return nil

	case config.RegistryBackendPostgres:
		db, err := database.New(ctx, &a.Config.Database, a.Logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })

		if a.Config.Database.MigrationAutoRun {
			migrator, err := database.NewMigrator(db, a.Config.Database.MigrationPath, a.Logger)
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			upErr := migrator.Up()
			if closeErr := migrator.Close(); closeErr != nil {
				a.Logger.Warn().Err(closeErr).Msg("failed to close migrator")
			}
			if upErr != nil {
				return fmt.Errorf("run migrations: %w", upErr)
			}
		}
		a.Store = registry.NewPgStore(db, a.Logger)
		return nil

	default:
		return fmt.Errorf("unsupported registry backend: %q", a.Config.Registry.Backend)
	}
}

func (a *App) openEmbedder(ctx context.Context) error {
	if err := a.Config.ValidateEmbedding(); err != nil {
		return fmt.Errorf("invalid embedding configuration: %w", err)
	}

	var cache embedding.VectorCache
	if a.Config.Qdrant.Enabled {
		client, err := qdrant.NewClient(qdrant.Config{
			Address:        a.Config.Qdrant.Address,
			CollectionName: a.Config.Qdrant.CollectionName,
			VectorSize:     a.Config.Qdrant.VectorSize,
			APIKey:         a.Config.Qdrant.APIKey,
			UseTLS:         a.Config.Qdrant.UseTLS,
		})
		if err != nil {
			return fmt.Errorf("create qdrant client: %w", err)
		}
		a.closers = append(a.closers, client.Close)

		if err := client.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("ensure qdrant collection: %w", err)
		}
		cache = client
	}

	emb, err := embedding.NewFromConfig(a.Config.Embedding, cache, a.Metrics, a.Logger)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	a.Embedder = emb
	return nil
}

func (a *App) openPublisher() error {
	if !a.Config.Kafka.Enabled {
		a.Publisher = events.NopPublisher{}
		return nil
	}
	pub, err := events.NewKafkaPublisher(a.Config.Kafka, a.Metrics, a.Logger)
	if err != nil {
		return fmt.Errorf("create kafka publisher: %w", err)
	}
	a.Publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

// Resolver creates a resolver over the loaded registry using prompter.
// confirm overrides the configured confirm mode when set.
func (a *App) Resolver(ctx context.Context, prompter resolver.Prompter, confirm bool) (*resolver.Resolver, error) {
	if a.Embedder == nil {
		if err := a.openEmbedder(ctx); err != nil {
			return nil, err
		}
	}
	matcher := resolver.NewMatcher(a.Embedder, a.Config.Resolver.EmbedConcurrency)
	return resolver.New(a.Registry, matcher, resolver.Config{
		Threshold:      a.Config.Resolver.AcceptThreshold,
		ConfirmMatches: a.Config.Resolver.ConfirmMatches || confirm,
		Prompter:       prompter,
	}, a.Metrics, a.Logger)
}

// Pipeline creates a batch pipeline around res.
func (a *App) Pipeline(res *resolver.Resolver) *pipeline.Pipeline {
	return pipeline.New(res, a.Store, a.Publisher, pipeline.Options{
		CleanInput:         a.Config.Resolver.CleanInput,
		PersistEveryRecord: a.Config.Resolver.PersistEveryRecord,
	}, a.Metrics, a.Logger)
}

// Persister saves the loaded registry without running the resolver.
func (a *App) Persister() *pipeline.Persister {
	return pipeline.NewPersister(a.Registry, a.Store, a.Publisher, a.Metrics, a.Logger)
}

// Close releases every opened resource.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
