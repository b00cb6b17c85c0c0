// Package domain contains the core types of the entity resolution service:
// registry entities, scraped paper records, and registry change events.
package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// EntityType scopes which candidates a name may be matched against.
type EntityType string

// Entity types.
const (
	EntityTypeAuthor      EntityType = "author"
	EntityTypeAffiliation EntityType = "affiliation"
	EntityTypeJournal     EntityType = "journal"
)

// Attribute keys collected from the human when an entity is created.
const (
	AttrCity          = "city"
	AttrProvinceState = "province_state"
	AttrCountry       = "country"
	AttrPublisher     = "publisher"
)

// EntityTypes lists every known entity type in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{EntityTypeAuthor, EntityTypeAffiliation, EntityTypeJournal}
}

// ParseEntityType converts a string to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", NewValidationError("type", fmt.Sprintf("unknown entity type %q", s))
	}
	return t, nil
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeAuthor, EntityTypeAffiliation, EntityTypeJournal:
		return true
	}
	return false
}

// AttributeKeys returns the type-specific attributes solicited on creation.
// Authors carry no extra attributes.
func (t EntityType) AttributeKeys() []string {
	switch t {
	case EntityTypeAffiliation:
		return []string{AttrCity, AttrProvinceState, AttrCountry}
	case EntityTypeJournal:
		return []string{AttrPublisher}
	default:
		return nil
	}
}

// Entity is a canonical registry record.
type Entity struct {
	ID           string     `json:"id" validate:"required"`
	Type         EntityType `json:"type" validate:"required,entity_type"`
	StandardName string     `json:"standard_name" validate:"required"`
	Variants     []string   `json:"variants" validate:"unique,dive,required"`

	// Affiliation attributes.
	City          string `json:"city,omitempty"`
	ProvinceState string `json:"province_state,omitempty"`
	Country       string `json:"country,omitempty"`

	// Journal attributes.
	Publisher string `json:"publisher,omitempty"`
}

// NewEntity creates an entity with a fresh ID. The query string is recorded as
// a variant only when it differs from the standard name.
func NewEntity(t EntityType, standardName, query string, attrs map[string]string) *Entity {
	e := &Entity{
		ID:           uuid.NewString(),
		Type:         t,
		StandardName: standardName,
		Variants:     []string{},
	}
	if query != "" && query != standardName {
		e.Variants = append(e.Variants, query)
	}
	e.ApplyAttributes(attrs)
	return e
}

// HasVariant reports whether s is already a known variant.
func (e *Entity) HasVariant(s string) bool {
	return slices.Contains(e.Variants, s)
}

// AddVariant attaches s as a variant. It returns false when s is empty, equal
// to the standard name, or already present.
func (e *Entity) AddVariant(s string) bool {
	if s == "" || s == e.StandardName || e.HasVariant(s) {
		return false
	}
	e.Variants = append(e.Variants, s)
	return true
}

// RemoveVariant drops s from the variant set if present.
func (e *Entity) RemoveVariant(s string) {
	e.Variants = slices.DeleteFunc(e.Variants, func(v string) bool { return v == s })
}

// RepairVariants drops blank variants, duplicates and copies of the standard
// name, keeping first-seen order. It reports whether anything was removed.
func (e *Entity) RepairVariants() bool {
	seen := make(map[string]bool, len(e.Variants))
	kept := make([]string, 0, len(e.Variants))
	for _, v := range e.Variants {
		if strings.TrimSpace(v) == "" || v == e.StandardName || seen[v] {
			continue
		}
		seen[v] = true
		kept = append(kept, v)
	}
	changed := len(kept) != len(e.Variants)
	e.Variants = kept
	return changed
}

// ApplyAttributes copies the attributes that are meaningful for the entity's
// type. Keys that do not belong to the type are ignored.
func (e *Entity) ApplyAttributes(attrs map[string]string) {
	for _, key := range e.Type.AttributeKeys() {
		v, ok := attrs[key]
		if !ok {
			continue
		}
		switch key {
		case AttrCity:
			e.City = v
		case AttrProvinceState:
			e.ProvinceState = v
		case AttrCountry:
			e.Country = v
		case AttrPublisher:
			e.Publisher = v
		}
	}
}

// Attributes returns the type-specific attributes as a map.
func (e *Entity) Attributes() map[string]string {
	out := make(map[string]string)
	switch e.Type {
	case EntityTypeAffiliation:
		out[AttrCity] = e.City
		out[AttrProvinceState] = e.ProvinceState
		out[AttrCountry] = e.Country
	case EntityTypeJournal:
		out[AttrPublisher] = e.Publisher
	}
	return out
}

// Names returns the standard name followed by every variant.
func (e *Entity) Names() []string {
	names := make([]string, 0, len(e.Variants)+1)
	names = append(names, e.StandardName)
	return append(names, e.Variants...)
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Variants = slices.Clone(e.Variants)
	if c.Variants == nil {
		c.Variants = []string{}
	}
	return &c
}

// Validate checks the entity's structural invariants.
func (e *Entity) Validate() error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			return NewValidationError(verrs[0].Field(), verrs[0].Tag())
		}
		return NewValidationError("entity", err.Error())
	}
	return nil
}

// entityJSON is the persisted shape. Type-conditional attributes are pointers
// so that they are written for their own type, even when empty, and omitted
// for every other type.
type entityJSON struct {
	ID            string     `json:"id"`
	Type          EntityType `json:"type"`
	StandardName  string     `json:"standard_name"`
	Variants      []string   `json:"variants"`
	City          *string    `json:"city,omitempty"`
	ProvinceState *string    `json:"province_state,omitempty"`
	Country       *string    `json:"country,omitempty"`
	Publisher     *string    `json:"publisher,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Entity) MarshalJSON() ([]byte, error) {
	out := entityJSON{
		ID:           e.ID,
		Type:         e.Type,
		StandardName: e.StandardName,
		Variants:     e.Variants,
	}
	if out.Variants == nil {
		out.Variants = []string{}
	}
	switch e.Type {
	case EntityTypeAffiliation:
		out.City = &e.City
		out.ProvinceState = &e.ProvinceState
		out.Country = &e.Country
	case EntityTypeJournal:
		out.Publisher = &e.Publisher
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var in entityJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Entity{
		ID:           in.ID,
		Type:         in.Type,
		StandardName: in.StandardName,
		Variants:     in.Variants,
	}
	if e.Variants == nil {
		e.Variants = []string{}
	}
	if in.City != nil {
		e.City = *in.City
	}
	if in.ProvinceState != nil {
		e.ProvinceState = *in.ProvinceState
	}
	if in.Country != nil {
		e.Country = *in.Country
	}
	if in.Publisher != nil {
		e.Publisher = *in.Publisher
	}
	return nil
}
