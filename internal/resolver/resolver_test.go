package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/observability"
	"github.com/helixir/entity-resolution-service/internal/registry"
)

func newTestResolver(t *testing.T, reg *registry.Registry, emb *fakeEmbedder, cfg Config) *Resolver {
	t.Helper()
	r, err := New(reg, NewMatcher(emb, 0), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestNew_Validation(t *testing.T) {
	reg := registry.New(nil)
	m := NewMatcher(newFakeEmbedder(nil), 0)
	p := AutoPrompter{}

	tests := []struct {
		name    string
		reg     *registry.Registry
		matcher *Matcher
		cfg     Config
		wantErr string
	}{
		{name: "missing registry", matcher: m, cfg: Config{Prompter: p}, wantErr: "registry is required"},
		{name: "missing matcher", reg: reg, cfg: Config{Prompter: p}, wantErr: "matcher is required"},
		{name: "missing prompter", reg: reg, matcher: m, wantErr: "prompter is required"},
		{name: "threshold too high", reg: reg, matcher: m, cfg: Config{Prompter: p, Threshold: 1}, wantErr: "threshold"},
		{name: "negative threshold", reg: reg, matcher: m, cfg: Config{Prompter: p, Threshold: -0.1}, wantErr: "threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.reg, tt.matcher, tt.cfg, nil, zerolog.Nop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("default threshold", func(t *testing.T) {
		r, err := New(reg, m, Config{Prompter: p}, nil, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, DefaultThreshold, r.cfg.Threshold)
		assert.Same(t, reg, r.Registry())
	})
}

func TestResolve_NewAuthorFromPrompt(t *testing.T) {
	reg := registry.New(nil)
	emb := newFakeEmbedder(nil)
	p := &scriptedPrompter{answers: []Answer{Named("Mohammadreza Rezaei", nil)}}
	r := newTestResolver(t, reg, emb, Config{Prompter: p})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "Mohammad Rezaei", "https://example.org/p/1")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "Mohammadreza Rezaei", res.Name)
	assert.Nil(t, res.Match)
	require.NotNil(t, res.Entity)
	assert.Equal(t, []string{"Mohammad Rezaei"}, res.Entity.Variants)

	require.Len(t, p.disambCalls, 1)
	assert.Equal(t, "https://example.org/p/1", p.disambCalls[0].URL)
	assert.Equal(t, domain.EntityTypeAuthor, p.disambCalls[0].Type)
	assert.Empty(t, p.confirmCalls)
	assert.Zero(t, emb.calls.Load())
	assert.Equal(t, 1, reg.Len())
}

func TestResolve_KnownVariantAutoAccepted(t *testing.T) {
	e := author("a1", "Mohammadreza Rezaei", "Mohammad Rezaei")
	reg := registry.New([]*domain.Entity{e})
	emb := newFakeEmbedder(map[string][]float32{
		"Mohammad Rezaei":     at(1),
		"Mohammadreza Rezaei": at(0.8),
	})
	p := &scriptedPrompter{}
	r := newTestResolver(t, reg, emb, Config{Prompter: p})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "Mohammad Rezaei", "")
	require.NoError(t, err)

	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, "Mohammadreza Rezaei", res.Name)
	require.NotNil(t, res.Match)
	assert.InDelta(t, 1.0, res.Match.Score, 1e-6)
	assert.Equal(t, FieldVariant, res.Match.Field)
	assert.Equal(t, []string{"Mohammad Rezaei"}, e.Variants)
	assert.Empty(t, p.disambCalls)
	assert.Empty(t, reg.DrainEvents())
}

func TestResolve_RejectedConfirmCreatesNewEntity(t *testing.T) {
	uot := affiliation("f1", "University of Tehran")
	reg := registry.New([]*domain.Entity{uot})
	emb := newFakeEmbedder(map[string][]float32{
		"Tehran Univ":          at(0.9),
		"University of Tehran": at(1),
	})
	p := &scriptedPrompter{
		confirms: []bool{false},
		answers:  []Answer{Named("Tehran University", map[string]string{domain.AttrCity: "tehran"})},
	}
	r := newTestResolver(t, reg, emb, Config{Prompter: p, ConfirmMatches: true})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAffiliation, "Tehran Univ", "")
	require.NoError(t, err)

	require.Len(t, p.confirmCalls, 1)
	assert.InDelta(t, 0.9, p.confirmCalls[0].Score, 1e-6)
	assert.Equal(t, "University of Tehran", p.confirmCalls[0].Text)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "Tehran University", res.Name)
	assert.NotEqual(t, "f1", res.Entity.ID)
	assert.Equal(t, "tehran", res.Entity.City)
	assert.Equal(t, []string{"Tehran Univ"}, res.Entity.Variants)
	assert.Empty(t, uot.Variants)
	assert.Equal(t, 2, reg.Len())
}

func TestResolve_BlankQuery(t *testing.T) {
	reg := registry.New([]*domain.Entity{affiliation("f1", "University of Tehran")})
	emb := newFakeEmbedder(nil)
	p := &scriptedPrompter{}
	r := newTestResolver(t, reg, emb, Config{Prompter: p})

	for _, name := range []string{"", "   ", "\t\n"} {
		res, err := r.Resolve(context.Background(), domain.EntityTypeAffiliation, name, "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeBlank, res.Outcome)
		assert.Empty(t, res.Name)
	}

	assert.Empty(t, p.disambCalls)
	assert.Zero(t, emb.calls.Load())
	assert.Equal(t, 1, reg.Len())
}

func TestResolve_Idempotent(t *testing.T) {
	e := author("a1", "Ali Ahmadi", "A. Ahmadi")
	reg := registry.New([]*domain.Entity{e})
	emb := newFakeEmbedder(map[string][]float32{
		"Ali Ahmadi": at(1),
		"A. Ahmadi":  at(0.7),
	})
	r := newTestResolver(t, reg, emb, Config{Prompter: &scriptedPrompter{}})

	for range 2 {
		res, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "Ali Ahmadi", "")
		require.NoError(t, err)
		assert.Equal(t, "Ali Ahmadi", res.Name)
		assert.Equal(t, FieldStandardName, res.Match.Field)
	}
	assert.Equal(t, []string{"A. Ahmadi"}, e.Variants)
}

func TestResolve_VariantAbsorption(t *testing.T) {
	e := author("a1", "Ali Ahmadi")
	reg := registry.New([]*domain.Entity{e})
	emb := newFakeEmbedder(map[string][]float32{
		"Ali Ahmadi": at(1),
		"Ali Ahmady": at(0.93),
	})
	r := newTestResolver(t, reg, emb, Config{Prompter: &scriptedPrompter{}})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "Ali Ahmady", "")
	require.NoError(t, err)
	assert.Equal(t, "Ali Ahmadi", res.Name)
	assert.Equal(t, []string{"Ali Ahmady"}, e.Variants)

	events := reg.DrainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeEntityVariantAdded, events[0].EventType)

	res, err = r.Resolve(context.Background(), domain.EntityTypeAuthor, "Ali Ahmady", "")
	require.NoError(t, err)
	assert.Equal(t, "Ali Ahmadi", res.Name)
	assert.Equal(t, FieldVariant, res.Match.Field)
	assert.Equal(t, []string{"Ali Ahmady"}, e.Variants)
	assert.Empty(t, reg.DrainEvents())
}

func TestResolve_TypeIsolation(t *testing.T) {
	journal := &domain.Entity{ID: "j1", Type: domain.EntityTypeJournal, StandardName: "Ali Ahmadi", Variants: []string{}}
	reg := registry.New([]*domain.Entity{journal})
	emb := newFakeEmbedder(map[string][]float32{"Ali Ahmadi": at(1)})
	p := &scriptedPrompter{answers: []Answer{Keep()}}
	r := newTestResolver(t, reg, emb, Config{Prompter: p})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "Ali Ahmadi", "")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, domain.EntityTypeAuthor, res.Entity.Type)
	assert.NotEqual(t, "j1", res.Entity.ID)
	assert.Empty(t, journal.Variants)
	assert.Len(t, p.disambCalls, 1)
	assert.Zero(t, emb.calls.Load())
}

func TestResolve_ConfirmedMatch(t *testing.T) {
	e := author("a1", "Ali Ahmadi")
	reg := registry.New([]*domain.Entity{e})
	emb := newFakeEmbedder(map[string][]float32{
		"Ali Ahmadi": at(1),
		"Ahmadi Ali": at(0.91),
	})
	p := &scriptedPrompter{confirms: []bool{true}}
	r := newTestResolver(t, reg, emb, Config{Prompter: p, ConfirmMatches: true})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "Ahmadi Ali", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, "Ali Ahmadi", res.Name)
	assert.Equal(t, []string{"Ahmadi Ali"}, e.Variants)
	assert.Empty(t, p.disambCalls)
}

func TestResolve_BelowThresholdPrompts(t *testing.T) {
	e := author("a1", "Ali Ahmadi")
	reg := registry.New([]*domain.Entity{e})
	emb := newFakeEmbedder(map[string][]float32{
		"Ali Ahmadi":  at(1),
		"Reza Ahmadi": at(0.8),
	})
	p := &scriptedPrompter{answers: []Answer{Keep()}}
	r := newTestResolver(t, reg, emb, Config{Prompter: p, ConfirmMatches: true})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "Reza Ahmadi", "")
	require.NoError(t, err)

	assert.Empty(t, p.confirmCalls)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "Reza Ahmadi", res.Name)
	assert.Empty(t, res.Entity.Variants)
	require.NotNil(t, res.Match)
	assert.Equal(t, "a1", res.Match.Entity.ID)
	assert.Empty(t, e.Variants)
}

func TestResolve_ConfigurableThreshold(t *testing.T) {
	e := author("a1", "Ali Ahmadi")
	reg := registry.New([]*domain.Entity{e})
	emb := newFakeEmbedder(map[string][]float32{
		"Ali Ahmadi":  at(1),
		"Reza Ahmadi": at(0.8),
	})
	r := newTestResolver(t, reg, emb, Config{Prompter: &scriptedPrompter{}, Threshold: 0.75})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "Reza Ahmadi", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, "Ali Ahmadi", res.Name)
}

func TestResolve_EmptyMarker(t *testing.T) {
	reg := registry.New(nil)
	p := &scriptedPrompter{answers: []Answer{Empty()}}
	r := newTestResolver(t, reg, newFakeEmbedder(nil), Config{Prompter: p})

	res, err := r.Resolve(context.Background(), domain.EntityTypeJournal, "unknown press", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Empty(t, res.Name)
	assert.Nil(t, res.Entity)
	assert.Zero(t, reg.Len())
	assert.Empty(t, reg.DrainEvents())
}

func TestResolve_TypedExistingNameMerges(t *testing.T) {
	uot := affiliation("f1", "University of Tehran")
	reg := registry.New([]*domain.Entity{uot})
	emb := newFakeEmbedder(map[string][]float32{
		"University of Tehran": at(1),
		"UT":                   at(0.1),
	})
	p := &scriptedPrompter{answers: []Answer{Named("University of Tehran", nil)}}
	r := newTestResolver(t, reg, emb, Config{Prompter: attributePrompter{p}})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAffiliation, "UT", "")
	require.NoError(t, err)

	assert.Equal(t, OutcomeMerged, res.Outcome)
	assert.Equal(t, "University of Tehran", res.Name)
	assert.Equal(t, []string{"UT"}, uot.Variants)
	assert.Equal(t, 1, reg.Len())
	assert.Empty(t, p.attrCalls)
}

func TestResolve_KeepCollectsAttributes(t *testing.T) {
	reg := registry.New(nil)
	p := &scriptedPrompter{
		answers: []Answer{Keep()},
		attrs:   map[string]string{domain.AttrCity: "shiraz", domain.AttrCountry: "iran"},
	}
	r := newTestResolver(t, reg, newFakeEmbedder(nil), Config{Prompter: attributePrompter{p}})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAffiliation, "shiraz university", "")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "shiraz university", res.Name)
	assert.Equal(t, "shiraz", res.Entity.City)
	assert.Equal(t, "iran", res.Entity.Country)
	assert.Equal(t, []string{"shiraz university"}, p.attrCalls)
}

func TestResolve_ExplicitAttributesSkipAttributePrompt(t *testing.T) {
	reg := registry.New(nil)
	p := &scriptedPrompter{
		answers: []Answer{Named("Elsevier Journal", map[string]string{domain.AttrPublisher: "elsevier"})},
		attrs:   map[string]string{domain.AttrPublisher: "ignored"},
	}
	r := newTestResolver(t, reg, newFakeEmbedder(nil), Config{Prompter: attributePrompter{p}})

	res, err := r.Resolve(context.Background(), domain.EntityTypeJournal, "elsevier jrnl", "")
	require.NoError(t, err)
	assert.Equal(t, "elsevier", res.Entity.Publisher)
	assert.Empty(t, p.attrCalls)
}

func TestResolve_AuthorsNeverAskForAttributes(t *testing.T) {
	reg := registry.New(nil)
	p := &scriptedPrompter{answers: []Answer{Keep()}}
	r := newTestResolver(t, reg, newFakeEmbedder(nil), Config{Prompter: attributePrompter{p}})

	_, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "ali ahmadi", "")
	require.NoError(t, err)
	assert.Empty(t, p.attrCalls)
}

func TestResolve_BlankTypedNameKeepsQuery(t *testing.T) {
	reg := registry.New(nil)
	p := &scriptedPrompter{answers: []Answer{Named("  ", nil)}}
	r := newTestResolver(t, reg, newFakeEmbedder(nil), Config{Prompter: p})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "ali ahmadi", "")
	require.NoError(t, err)
	assert.Equal(t, "ali ahmadi", res.Name)
}

func TestResolve_KeepExistingStandardName(t *testing.T) {
	e := author("a1", "ali ahmadi")
	reg := registry.New([]*domain.Entity{e})
	emb := newFakeEmbedder(map[string][]float32{"ali ahmadi": at(1)})
	p := &scriptedPrompter{confirms: []bool{false}, answers: []Answer{Keep()}}
	r := newTestResolver(t, reg, emb, Config{Prompter: p, ConfirmMatches: true})

	res, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "ali ahmadi", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res.Outcome)
	assert.Equal(t, "a1", res.Entity.ID)
	assert.Equal(t, 1, reg.Len())
	assert.Empty(t, e.Variants)
}

func TestResolve_EmbeddingFailureIsFatal(t *testing.T) {
	reg := registry.New([]*domain.Entity{author("a1", "ali ahmadi")})
	emb := newFakeEmbedder(nil)
	emb.err = errors.New("model unavailable")
	p := &scriptedPrompter{}
	r := newTestResolver(t, reg, emb, Config{Prompter: p})

	_, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "ali ahmady", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Empty(t, p.disambCalls)
	assert.Empty(t, reg.DrainEvents())
}

func TestResolve_PromptFailure(t *testing.T) {
	reg := registry.New(nil)
	p := &scriptedPrompter{err: io.EOF}
	r := newTestResolver(t, reg, newFakeEmbedder(nil), Config{Prompter: p})

	_, err := r.Resolve(context.Background(), domain.EntityTypeAuthor, "ali ahmadi", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPromptAborted)
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, reg.Len())
}

func TestResolve_PromptAbortNotDoubleWrapped(t *testing.T) {
	err := promptError("x", domain.ErrPromptAborted)
	assert.Equal(t, `prompt for "x": prompt aborted`, err.Error())
}

func TestResolve_InvalidType(t *testing.T) {
	r := newTestResolver(t, registry.New(nil), newFakeEmbedder(nil), Config{Prompter: AutoPrompter{}})

	_, err := r.Resolve(context.Background(), domain.EntityType("publisher"), "x", "")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Field)
}

func TestResolve_AutoPrompterKeepsUnmatched(t *testing.T) {
	reg := registry.New(nil)
	r := newTestResolver(t, reg, newFakeEmbedder(nil), Config{Prompter: AutoPrompter{}, ConfirmMatches: true})

	res, err := r.Resolve(context.Background(), domain.EntityTypeJournal, "nature", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "nature", res.Name)
	assert.Empty(t, res.Entity.Publisher)
}

func TestResolve_PromptFuncAdapter(t *testing.T) {
	reg := registry.New(nil)
	var seen Request
	prompter := PromptFunc(func(_ context.Context, req Request) (Answer, error) {
		seen = req
		return Named("Nature", nil), nil
	})
	r := newTestResolver(t, reg, newFakeEmbedder(nil), Config{Prompter: prompter})

	res, err := r.Resolve(context.Background(), domain.EntityTypeJournal, "nature", "u")
	require.NoError(t, err)
	assert.Equal(t, "Nature", res.Name)
	assert.Equal(t, "nature", seen.Name)

	ok, err := prompter.Confirm(context.Background(), seen, Match{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolve_Metrics(t *testing.T) {
	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", promReg)

	e := author("a1", "ali ahmadi")
	reg := registry.New([]*domain.Entity{e})
	emb := newFakeEmbedder(map[string][]float32{
		"ali ahmadi":  at(1),
		"ali ahmady":  at(0.95),
		"reza karimi": at(0.1),
	})
	p := &scriptedPrompter{confirms: []bool{true}, answers: []Answer{Keep()}}

	r, err := New(reg, NewMatcher(emb, 0), Config{Prompter: p, ConfirmMatches: true}, metrics, zerolog.Nop())
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), domain.EntityTypeAuthor, "ali ahmady", "")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), domain.EntityTypeAuthor, "reza karimi", "")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), domain.EntityTypeAuthor, "", "")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Resolutions.WithLabelValues("author", string(OutcomeConfirmed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Resolutions.WithLabelValues("author", string(OutcomeCreated))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Resolutions.WithLabelValues("author", string(OutcomeBlank))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Prompts.WithLabelValues("author", "confirm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Prompts.WithLabelValues("author", "disambiguate")))

	var scores dto.Metric
	require.NoError(t, metrics.MatchScore.WithLabelValues("author").(prometheus.Metric).Write(&scores))
	assert.Equal(t, uint64(2), scores.GetHistogram().GetSampleCount())
}

func TestResolve_LogsRecordAndEntityFields(t *testing.T) {
	reg := registry.New([]*domain.Entity{author("a1", "Ali Ahmadi")})
	emb := newFakeEmbedder(map[string][]float32{"Ali Ahmadi": at(1)})

	var buf bytes.Buffer
	r, err := New(reg, NewMatcher(emb, 0), Config{Prompter: &scriptedPrompter{}}, nil, zerolog.New(&buf).Level(zerolog.DebugLevel))
	require.NoError(t, err)

	ctx := observability.WithRecordURL(context.Background(), "https://example.org/p/7")
	_, err = r.Resolve(ctx, domain.EntityTypeAuthor, "Ali Ahmadi", "https://example.org/p/7")
	require.NoError(t, err)

	entry := findLogEntry(t, buf.Bytes(), "name resolved")
	assert.Equal(t, "https://example.org/p/7", entry["record_url"])
	assert.Equal(t, "author", entry["entity_type"])
	assert.Equal(t, "Ali Ahmadi", entry["query"])
	assert.Equal(t, string(OutcomeAccepted), entry["outcome"])
}

func findLogEntry(t *testing.T, logs []byte, message string) map[string]any {
	t.Helper()
	for _, line := range bytes.Split(bytes.TrimSpace(logs), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == message {
			return entry
		}
	}
	t.Fatalf("no log entry with message %q in %s", message, logs)
	return nil
}
