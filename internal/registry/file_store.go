package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

// utf8BOM is stripped on load; registries written by older tooling carry it.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// FileStore persists the registry as a single JSON array of entity records.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("component", "registry-file-store").Str("path", path).Logger(),
	}
}

// Backend returns the backend label.
func (s *FileStore) Backend() string { return "file" }

// Path returns the registry file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the registry file. A missing file, malformed JSON, or a top-level
// value that is not an array all yield an empty registry. Blank or repeated
// variants are dropped from a record; records still invalid after that are
// skipped with a warning.
func (s *FileStore) Load(_ context.Context) ([]*domain.Entity, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info().Msg("registry file not found, starting with an empty registry")
			return []*domain.Entity{}, nil
		}
		s.logger.Warn().Err(err).Msg("registry file unreadable, starting with an empty registry")
		return []*domain.Entity{}, nil
	}

	data = bytes.TrimPrefix(data, utf8BOM)

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn().Err(err).Msg("registry file is not a JSON array, starting with an empty registry")
		return []*domain.Entity{}, nil
	}

	entities := make([]*domain.Entity, 0, len(raw))
	for i, item := range raw {
		var e domain.Entity
		if err := json.Unmarshal(item, &e); err != nil {
			s.logger.Warn().Err(err).Int("index", i).Msg("skipping malformed registry record")
			continue
		}
		if e.RepairVariants() {
			s.logger.Warn().Int("index", i).Str("entity_id", e.ID).Msg("dropped blank or duplicate variants from registry record")
		}
		if err := e.Validate(); err != nil {
			s.logger.Warn().Err(err).Int("index", i).Str("entity_id", e.ID).Msg("skipping invalid registry record")
			continue
		}
		entities = append(entities, &e)
	}

	s.logger.Info().Int("entities", len(entities)).Msg("registry loaded")
	return entities, nil
}

// Save writes the collection to a temporary file next to the target and
// renames it into place, so readers never observe a partial write.
func (s *FileStore) Save(_ context.Context, entities []*domain.Entity) error {
	if entities == nil {
		entities = []*domain.Entity{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(entities); err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp registry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace registry file: %w", err)
	}

	s.logger.Debug().Int("entities", len(entities)).Msg("registry saved")
	return nil
}
