package resolver

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

// fakeEmbedder returns fixed vectors per text and fails on unknown input.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   atomic.Int32
}

func newFakeEmbedder(vectors map[string][]float32) *fakeEmbedder {
	return &fakeEmbedder{vectors: vectors}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (f *fakeEmbedder) Provider() string { return "fake" }
func (f *fakeEmbedder) Model() string    { return "fake-2" }

// at returns the unit vector whose cosine with (1, 0) is cos.
func at(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

// scriptedPrompter replays queued answers and records every call.
type scriptedPrompter struct {
	mu sync.Mutex

	confirms []bool
	answers  []Answer
	attrs    map[string]string
	err      error

	confirmCalls []Match
	disambCalls  []Request
	attrCalls    []string
}

func (p *scriptedPrompter) Confirm(_ context.Context, _ Request, m Match) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmCalls = append(p.confirmCalls, m)
	if p.err != nil {
		return false, p.err
	}
	if len(p.confirms) == 0 {
		return false, fmt.Errorf("unexpected confirm for %q", m.Text)
	}
	ok := p.confirms[0]
	p.confirms = p.confirms[1:]
	return ok, nil
}

func (p *scriptedPrompter) Disambiguate(_ context.Context, req Request) (Answer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disambCalls = append(p.disambCalls, req)
	if p.err != nil {
		return Answer{}, p.err
	}
	if len(p.answers) == 0 {
		return Answer{}, fmt.Errorf("unexpected prompt for %q", req.Name)
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

// attributePrompter adds attribute collection to scriptedPrompter.
type attributePrompter struct {
	*scriptedPrompter
}

func (p attributePrompter) Attributes(_ context.Context, _ Request, standardName string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrCalls = append(p.attrCalls, standardName)
	return p.attrs, nil
}

func author(id, name string, variants ...string) *domain.Entity {
	if variants == nil {
		variants = []string{}
	}
	return &domain.Entity{ID: id, Type: domain.EntityTypeAuthor, StandardName: name, Variants: variants}
}

func affiliation(id, name string, variants ...string) *domain.Entity {
	if variants == nil {
		variants = []string{}
	}
	return &domain.Entity{ID: id, Type: domain.EntityTypeAffiliation, StandardName: name, Variants: variants}
}
