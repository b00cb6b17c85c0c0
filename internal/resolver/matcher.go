package resolver

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/embedding"
)

// Matched fields.
const (
	FieldStandardName = "standard_name"
	FieldVariant      = "variant"
)

const defaultConcurrency = 8

// Match is the best candidate for a query.
type Match struct {
	Entity *domain.Entity
	// Score is the cosine similarity in [0, 1].
	Score float64
	// Field is FieldStandardName or FieldVariant.
	Field string
	// Text is the standard name or the specific variant that produced Score.
	Text string
}

// Matcher scores a query against candidate entities by embedding similarity.
type Matcher struct {
	embedder    embedding.Embedder
	concurrency int
}

// NewMatcher creates a matcher that embeds up to concurrency names at once.
func NewMatcher(embedder embedding.Embedder, concurrency int) *Matcher {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Matcher{embedder: embedder, concurrency: concurrency}
}

// BestMatch returns the candidate whose standard name or variant is most
// similar to query, or nil when there are no candidates. Ties go to the
// candidate seen first and, within a candidate, to the standard name before
// variants in stored order.
func (m *Matcher) BestMatch(ctx context.Context, query string, candidates []*domain.Entity) (*Match, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	vectors, err := m.embedAll(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	qv := vectors[query]

	var best *Match
	for _, e := range candidates {
		for i, name := range e.Names() {
			score, err := embedding.CosineSimilarity(qv, vectors[name])
			if err != nil {
				return nil, domain.NewEmbeddingError(m.embedder.Provider(), name, err)
			}
			if best != nil && score <= best.Score {
				continue
			}
			field := FieldVariant
			if i == 0 {
				field = FieldStandardName
			}
			best = &Match{Entity: e, Score: score, Field: field, Text: name}
		}
	}
	return best, nil
}

// embedAll embeds the query and every distinct candidate name in parallel.
func (m *Matcher) embedAll(ctx context.Context, query string, candidates []*domain.Entity) (map[string][]float32, error) {
	names := []string{query}
	seen := map[string]bool{query: true}
	for _, e := range candidates {
		for _, n := range e.Names() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}

	results := make([][]float32, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, name := range names {
		g.Go(func() error {
			vec, err := m.embedder.Embed(gctx, name)
			if err != nil {
				if errors.Is(err, domain.ErrEmbedding) {
					return err
				}
				return domain.NewEmbeddingError(m.embedder.Provider(), name, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("matching %q: %w", query, err)
	}

	vectors := make(map[string][]float32, len(names))
	for i, name := range names {
		vectors[name] = results[i]
	}
	return vectors, nil
}
