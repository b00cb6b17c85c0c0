package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

type renameRequest struct {
	StandardName string `json:"standard_name" validate:"required,max=1000"`
}

type mergeRequest struct {
	TargetID string `json:"target_id" validate:"required"`
}

type resolveRequest struct {
	Type string `json:"type" validate:"required,entity_type"`
	Name string `json:"name" validate:"max=1000"`
	URL  string `json:"url,omitempty" validate:"omitempty,max=2048"`
}

type resolveResponse struct {
	Name         string         `json:"name"`
	Outcome      string         `json:"outcome"`
	Entity       *domain.Entity `json:"entity,omitempty"`
	Score        *float64       `json:"score,omitempty"`
	MatchedField string         `json:"matched_field,omitempty"`
	MatchedText  string         `json:"matched_text,omitempty"`
}

type listEntitiesResponse struct {
	Entities      []*domain.Entity `json:"entities"`
	NextPageToken string           `json:"next_page_token,omitempty"`
	TotalCount    int              `json:"total_count"`
}

type mergeResponse struct {
	Entity   *domain.Entity `json:"entity"`
	MergedID string         `json:"merged_id"`
}

// listEntities handles GET /entities with an optional type filter.
func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	var filter domain.EntityType
	if t := r.URL.Query().Get("type"); t != "" {
		parsed, err := domain.ParseEntityType(t)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter = parsed
	}
	limit, offset := parsePaginationParams(r)

	s.mu.Lock()
	var all []*domain.Entity
	if filter != "" {
		all = s.registry().FilterByType(filter)
	} else {
		all = s.registry().Entities()
	}
	total := len(all)
	page := make([]*domain.Entity, 0, limit)
	for i := offset; i < total && len(page) < limit; i++ {
		page = append(page, all[i].Clone())
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, listEntitiesResponse{
		Entities:      page,
		NextPageToken: encodeHTTPPageToken(offset, limit, total),
		TotalCount:    total,
	})
}

// getEntity handles GET /entities/{entityID}.
func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entityID")

	s.mu.Lock()
	e, err := s.registry().Get(id)
	if err == nil {
		e = e.Clone()
	}
	s.mu.Unlock()

	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// renameEntity handles PATCH /entities/{entityID}.
func (s *Server) renameEntity(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "entityID")
	name := strings.TrimSpace(req.StandardName)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.registry().Rename(id, name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !s.persist(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, e.Clone())
}

// mergeEntity handles POST /entities/{entityID}/merge. The entity in the path
// is folded into target_id.
func (s *Server) mergeEntity(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "entityID")

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.registry().Merge(id, req.TargetID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !s.persist(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, mergeResponse{Entity: e.Clone(), MergedID: id})
}

// resolveName handles POST /resolve.
func (s *Server) resolveName(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.resolver.Resolve(r.Context(), domain.EntityType(req.Type), req.Name, req.URL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !s.persist(w, r) {
		return
	}

	resp := resolveResponse{Name: res.Name, Outcome: string(res.Outcome)}
	if res.Entity != nil {
		resp.Entity = res.Entity.Clone()
	}
	if res.Match != nil {
		score := res.Match.Score
		resp.Score = &score
		resp.MatchedField = res.Match.Field
		resp.MatchedText = res.Match.Text
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveRecord handles POST /records/resolve: every author, affiliation and
// the journal of one paper record.
func (s *Server) resolveRecord(w http.ResponseWriter, r *http.Request) {
	var rec domain.Record
	if !decodeBody(w, r, &rec) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.records.ResolveRecord(r.Context(), &rec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !s.persist(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// persist saves the registry; callers hold mu.
func (s *Server) persist(w http.ResponseWriter, r *http.Request) bool {
	if err := s.persister.Persist(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist registry")
		writeError(w, http.StatusInternalServerError, "failed to persist registry")
		return false
	}
	return true
}

// decodeBody reads a size-limited JSON body into v and validates struct tags.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) > maxRequestBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}

	if err := domain.Validator().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, validationMessage(verrs[0]))
		} else {
			writeError(w, http.StatusBadRequest, "invalid request")
		}
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	field := jsonFieldName(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "entity_type":
		return fmt.Sprintf("%s must be one of author, affiliation, journal", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

var jsonFieldNames = map[string]string{
	"StandardName": "standard_name",
	"TargetID":     "target_id",
	"Type":         "type",
	"Name":         "name",
	"URL":          "url",
}

func jsonFieldName(field string) string {
	if n, ok := jsonFieldNames[field]; ok {
		return n
	}
	return strings.ToLower(field)
}

// writeDomainError maps a domain error to an HTTP error response. Messages
// never include wrapped internal details.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrEmbedding):
		writeError(w, http.StatusBadGateway, "embedding service failed")
	case errors.Is(err, domain.ErrPromptAborted):
		writeError(w, http.StatusConflict, "resolution aborted")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
