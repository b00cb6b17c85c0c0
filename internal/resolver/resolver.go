// Package resolver decides which canonical entity a raw name refers to.
//
// Resolution runs the policy: filter the registry to the requested type,
// find the most similar standard name or variant, accept it when the score
// exceeds the threshold (optionally after human confirmation), and otherwise
// ask the Prompter for a standard name.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/observability"
	"github.com/helixir/entity-resolution-service/internal/registry"
)

// DefaultThreshold is the similarity a match must exceed to be accepted.
const DefaultThreshold = 0.85

// Outcome describes how a name was resolved.
type Outcome string

const (
	// OutcomeBlank means the query was empty; nothing was attempted.
	OutcomeBlank Outcome = "blank"
	// OutcomeAccepted means the best match was accepted automatically.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeConfirmed means a human confirmed the best match.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeMerged means the typed standard name already existed and the
	// query became its variant.
	OutcomeMerged Outcome = "merged"
	// OutcomeCreated means a new entity was created.
	OutcomeCreated Outcome = "created"
	// OutcomeEmpty means the human marked the name as having no value.
	OutcomeEmpty Outcome = "empty"
)

// Result is the outcome of one resolution.
type Result struct {
	// Name is the canonical name, or "" for OutcomeBlank and OutcomeEmpty.
	Name    string
	Outcome Outcome
	// Entity is the entity the query resolved to, nil when Name is "".
	Entity *domain.Entity
	// Match is the best candidate found, nil when there were no candidates.
	Match *Match
}

// Config is the per-session resolution policy.
type Config struct {
	// Threshold is the score a match must strictly exceed (default 0.85).
	Threshold float64
	// ConfirmMatches asks the Prompter to confirm every automatic match.
	ConfirmMatches bool
	// Prompter answers when automatic matching is inconclusive.
	Prompter Prompter
}

// Resolver applies the resolution policy to a registry.
type Resolver struct {
	registry *registry.Registry
	matcher  *Matcher
	cfg      Config
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// New creates a resolver over reg.
func New(reg *registry.Registry, matcher *Matcher, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) (*Resolver, error) {
	if reg == nil {
		return nil, fmt.Errorf("resolver: registry is required")
	}
	if matcher == nil {
		return nil, fmt.Errorf("resolver: matcher is required")
	}
	if cfg.Prompter == nil {
		return nil, fmt.Errorf("resolver: prompter is required")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("resolver: threshold must be in (0, 1), got %v", cfg.Threshold)
	}

	return &Resolver{
		registry: reg,
		matcher:  matcher,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}, nil
}

// Registry returns the registry the resolver mutates.
func (r *Resolver) Registry() *registry.Registry {
	return r.registry
}

// Resolve returns the canonical name for name. url is shown to the human as
// context and plays no part in matching.
func (r *Resolver) Resolve(ctx context.Context, t domain.EntityType, name, url string) (Result, error) {
	if !t.Valid() {
		return Result{}, domain.NewValidationError("type", fmt.Sprintf("unknown entity type %q", t))
	}
	if domain.IsBlank(name) {
		r.finish(ctx, t, name, Result{Outcome: OutcomeBlank})
		return Result{Outcome: OutcomeBlank}, nil
	}

	req := Request{Type: t, Name: name, URL: url}

	match, err := r.matcher.BestMatch(ctx, name, r.registry.FilterByType(t))
	if err != nil {
		return Result{}, err
	}

	if match != nil && match.Score > r.cfg.Threshold {
		outcome := OutcomeAccepted
		accept := true
		if r.cfg.ConfirmMatches {
			r.metrics.RecordPrompt(string(t), "confirm")
			accept, err = r.cfg.Prompter.Confirm(ctx, req, *match)
			if err != nil {
				return Result{}, promptError(name, err)
			}
			outcome = OutcomeConfirmed
		}
		if accept {
			if _, err := r.registry.AttachVariant(match.Entity.ID, name); err != nil {
				return Result{}, err
			}
			res := Result{Name: match.Entity.StandardName, Outcome: outcome, Entity: match.Entity, Match: match}
			r.finish(ctx, t, name, res)
			return res, nil
		}
	}

	res, err := r.disambiguate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res.Match = match
	r.finish(ctx, t, name, res)
	return res, nil
}

// disambiguate runs the full prompt branch.
func (r *Resolver) disambiguate(ctx context.Context, req Request) (Result, error) {
	r.metrics.RecordPrompt(string(req.Type), "disambiguate")
	answer, err := r.cfg.Prompter.Disambiguate(ctx, req)
	if err != nil {
		return Result{}, promptError(req.Name, err)
	}

	standardName := req.Name
	switch answer.Kind {
	case AnswerEmpty:
		return Result{Outcome: OutcomeEmpty}, nil
	case AnswerName:
		if !domain.IsBlank(answer.Name) {
			standardName = answer.Name
		}
	}

	if existing, ok := r.registry.FindByStandardName(req.Type, standardName); ok {
		if _, err := r.registry.AttachVariant(existing.ID, req.Name); err != nil {
			return Result{}, err
		}
		return Result{Name: existing.StandardName, Outcome: OutcomeMerged, Entity: existing}, nil
	}

	attrs := answer.Attributes
	if attrs == nil && len(req.Type.AttributeKeys()) > 0 {
		if ap, ok := r.cfg.Prompter.(AttributePrompter); ok {
			attrs, err = ap.Attributes(ctx, req, standardName)
			if err != nil {
				return Result{}, promptError(req.Name, err)
			}
		}
	}

	e, err := r.registry.Create(req.Type, standardName, req.Name, attrs)
	if err != nil {
		return Result{}, err
	}
	return Result{Name: e.StandardName, Outcome: OutcomeCreated, Entity: e}, nil
}

func (r *Resolver) finish(ctx context.Context, t domain.EntityType, query string, res Result) {
	score := -1.0
	logger := observability.WithEntityContext(observability.LoggerFromContext(ctx, r.logger), string(t), query)
	ev := logger.Debug().
		Str("outcome", string(res.Outcome)).
		Str("resolved", res.Name)
	if res.Match != nil {
		score = res.Match.Score
		ev = ev.Float64("score", res.Match.Score).
			Str("matched_field", res.Match.Field).
			Str("matched_text", res.Match.Text)
	}
	ev.Msg("name resolved")
	r.metrics.RecordResolution(string(t), string(res.Outcome), score)
}

// promptError marks err as a prompt failure.
func promptError(name string, err error) error {
	if errors.Is(err, domain.ErrPromptAborted) {
		return fmt.Errorf("prompt for %q: %w", name, err)
	}
	return fmt.Errorf("prompt for %q: %w: %w", name, domain.ErrPromptAborted, err)
}
