package resolver

import (
	"context"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

// Request identifies the name a human is asked about.
type Request struct {
	// Type is the entity type being resolved.
	Type domain.EntityType
	// Name is the raw query string.
	Name string
	// URL is the source record, shown as context only.
	URL string
}

// AnswerKind is the branch a human picked in full disambiguation.
type AnswerKind int

const (
	// AnswerKeep uses the query string itself as a new standard name.
	AnswerKeep AnswerKind = iota
	// AnswerName supplies a standard name.
	AnswerName
	// AnswerEmpty resolves the query to an empty value without touching the registry.
	AnswerEmpty
)

// String returns the answer kind name.
func (k AnswerKind) String() string {
	switch k {
	case AnswerName:
		return "name"
	case AnswerEmpty:
		return "empty"
	default:
		return "keep"
	}
}

// Answer is the result of full disambiguation.
type Answer struct {
	Kind AnswerKind
	// Name is the typed standard name for AnswerName.
	Name string
	// Attributes are type-specific fields for a newly created entity. A nil
	// map lets the resolver ask an AttributePrompter once it knows a new
	// entity will be created.
	Attributes map[string]string
}

// Keep returns the pass-through answer.
func Keep() Answer { return Answer{Kind: AnswerKeep} }

// Empty returns the "no value" answer.
func Empty() Answer { return Answer{Kind: AnswerEmpty} }

// Named returns an answer supplying a standard name.
func Named(name string, attrs map[string]string) Answer {
	return Answer{Kind: AnswerName, Name: name, Attributes: attrs}
}

// Prompter is the human-interaction boundary. Calls block until the human
// answers. No timeout is imposed; implementations may return early when ctx
// is cancelled.
type Prompter interface {
	// Confirm asks whether the automatic match should be accepted.
	Confirm(ctx context.Context, req Request, match Match) (bool, error)
	// Disambiguate asks for the standard name of req.Name.
	Disambiguate(ctx context.Context, req Request) (Answer, error)
}

// AttributePrompter is implemented by prompters that collect type-specific
// attributes only after the resolver has decided to create an entity.
type AttributePrompter interface {
	Attributes(ctx context.Context, req Request, standardName string) (map[string]string, error)
}

// PromptFunc adapts a single disambiguation callback to a Prompter.
// Confirmation requests are accepted.
type PromptFunc func(ctx context.Context, req Request) (Answer, error)

// Confirm accepts every automatic match.
func (f PromptFunc) Confirm(context.Context, Request, Match) (bool, error) {
	return true, nil
}

// Disambiguate calls f.
func (f PromptFunc) Disambiguate(ctx context.Context, req Request) (Answer, error) {
	return f(ctx, req)
}

// AutoPrompter is the headless responder: it accepts every automatic match
// and keeps unmatched names as new standard names with no attributes.
type AutoPrompter struct{}

// Confirm accepts the match.
func (AutoPrompter) Confirm(context.Context, Request, Match) (bool, error) {
	return true, nil
}

// Disambiguate keeps the query as-is.
func (AutoPrompter) Disambiguate(context.Context, Request) (Answer, error) {
	return Keep(), nil
}
