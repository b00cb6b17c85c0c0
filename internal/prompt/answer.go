package prompt

import (
	"fmt"
	"strings"

	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/resolver"
)

// Typed answers that mark a name as having no value.
var emptyMarkers = map[string]bool{"empty": true, "none": true}

// parseAnswer interprets a typed disambiguation answer. Blank input keeps the
// query as-is; "empty" or "none" selects the empty value; anything else is
// cleaned and used as the standard name.
func parseAnswer(raw string) resolver.Answer {
	s := strings.TrimSpace(raw)
	if s == "" {
		return resolver.Keep()
	}
	if emptyMarkers[strings.ToLower(s)] {
		return resolver.Empty()
	}
	name := domain.CleanText(s)
	if name == "" {
		return resolver.Keep()
	}
	return resolver.Named(name, nil)
}

// parseYes reports whether a confirmation answer is affirmative.
func parseYes(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes":
		return true
	}
	return false
}

func header(req resolver.Request) string {
	if req.URL == "" {
		return fmt.Sprintf("Unrecognized %s:", req.Type)
	}
	return fmt.Sprintf("Unrecognized %s in %s:", req.Type, req.URL)
}

func confirmQuestion(req resolver.Request, m resolver.Match) string {
	via := "standard name"
	if m.Field == resolver.FieldVariant {
		via = fmt.Sprintf("variant %q", m.Text)
	}
	return fmt.Sprintf("Match %q -> %q (score %.2f via %s)?", req.Name, m.Entity.StandardName, m.Score, via)
}

var attributeLabels = map[string]string{
	domain.AttrCity:          "City",
	domain.AttrProvinceState: "Province/State",
	domain.AttrCountry:       "Country",
	domain.AttrPublisher:     "Publisher",
}

func attributeLabel(key string) string {
	if l, ok := attributeLabels[key]; ok {
		return l
	}
	return key
}
