package embedding

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/entity-resolution-service/internal/config"
	"github.com/helixir/entity-resolution-service/internal/observability"
)

// NewFromConfig creates the configured embedder wrapped in a CachingEmbedder.
// store is the optional persistent tier and may be nil.
func NewFromConfig(cfg config.EmbeddingConfig, store VectorCache, metrics *observability.Metrics, logger zerolog.Logger) (*CachingEmbedder, error) {
	var inner Embedder

	switch strings.ToLower(cfg.Provider) {
	case config.EmbeddingProviderOpenAI:
		inner = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:         cfg.OpenAI.APIKey,
			Model:          cfg.OpenAI.Model,
			BaseURL:        cfg.OpenAI.BaseURL,
			Dimensions:     cfg.Dimensions,
			Timeout:        cfg.Timeout,
			MaxRetries:     cfg.MaxRetries,
			RetryDelay:     cfg.RetryDelay,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
		}, metrics, logger)
	case config.EmbeddingProviderHash:
		h, err := NewHashEmbedder(cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		inner = h
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q (supported: openai, hash)", cfg.Provider)
	}

	logger.Info().
		Str("provider", inner.Provider()).
		Str("model", inner.Model()).
		Bool("persistent_cache", store != nil).
		Msg("embedder configured")

	return NewCachingEmbedder(inner, store, metrics, logger), nil
}
