package domain

import (
	"encoding/json"
	"fmt"
)

// Record is one scraped and translated paper as handed to the resolver.
// Fields other than url, authors, affiliations and journal (title, abstract,
// year, ...) are carried through untouched.
type Record struct {
	URL          string
	Authors      []string
	Affiliations []string
	Journal      string

	extra map[string]json.RawMessage
}

// Known record keys.
const (
	recordKeyURL          = "url"
	recordKeyAuthors      = "authors"
	recordKeyAffiliations = "affiliations"
	recordKeyJournal      = "journal"
)

// Extra returns a pass-through field by key.
func (r *Record) Extra(key string) (json.RawMessage, bool) {
	v, ok := r.extra[key]
	return v, ok
}

// SetExtra stores a pass-through field.
func (r *Record) SetExtra(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if r.extra == nil {
		r.extra = make(map[string]json.RawMessage)
	}
	r.extra[key] = raw
	return nil
}

// WithNames returns a copy of r carrying the resolved names and the same
// pass-through fields.
func (r *Record) WithNames(authors, affiliations []string, journal string) Record {
	out := Record{
		URL:          r.URL,
		Authors:      authors,
		Affiliations: affiliations,
		Journal:      journal,
	}
	if len(r.extra) > 0 {
		out.extra = make(map[string]json.RawMessage, len(r.extra))
		for k, v := range r.extra {
			out.extra[k] = v
		}
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.extra)+4)
	for k, v := range r.extra {
		m[k] = v
	}
	authors := r.Authors
	if authors == nil {
		authors = []string{}
	}
	affiliations := r.Affiliations
	if affiliations == nil {
		affiliations = []string{}
	}
	m[recordKeyURL] = r.URL
	m[recordKeyAuthors] = authors
	m[recordKeyAffiliations] = affiliations
	m[recordKeyJournal] = r.Journal
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Record
	if v, ok := raw[recordKeyURL]; ok {
		if err := json.Unmarshal(v, &out.URL); err != nil {
			return fmt.Errorf("record url: %w", err)
		}
		delete(raw, recordKeyURL)
	}
	if v, ok := raw[recordKeyAuthors]; ok {
		if err := json.Unmarshal(v, &out.Authors); err != nil {
			return fmt.Errorf("record authors: %w", err)
		}
		delete(raw, recordKeyAuthors)
	}
	if v, ok := raw[recordKeyAffiliations]; ok {
		if err := json.Unmarshal(v, &out.Affiliations); err != nil {
			return fmt.Errorf("record affiliations: %w", err)
		}
		delete(raw, recordKeyAffiliations)
	}
	if v, ok := raw[recordKeyJournal]; ok {
		if err := json.Unmarshal(v, &out.Journal); err != nil {
			return fmt.Errorf("record journal: %w", err)
		}
		delete(raw, recordKeyJournal)
	}
	if len(raw) > 0 {
		out.extra = raw
	}

	*r = out
	return nil
}
