package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

const providerHash = "hash"

// Compile-time check that HashEmbedder implements Embedder.
var _ Embedder = (*HashEmbedder)(nil)

// HashEmbedder projects character trigrams and whole words into a fixed-size
// vector with signed feature hashing. It needs no network and is fully
// deterministic, which makes it the offline and test backend. It captures
// spelling overlap only, not meaning.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder producing dims-sized vectors.
func NewHashEmbedder(dims int) (*HashEmbedder, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("hash embedder: dimensions must be positive, got %d", dims)
	}
	return &HashEmbedder{dims: dims}, nil
}

// Provider returns "hash".
func (h *HashEmbedder) Provider() string {
	return providerHash
}

// Model identifies the vector space, which depends only on the dimension.
func (h *HashEmbedder) Model() string {
	return fmt.Sprintf("trigram-%d", h.dims)
}

// Embed returns the unit-length feature vector of text.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dims)
	key := domain.NormalizeKey(text)
	if key == "" {
		return vec, nil
	}

	// Whitespace is removed from the trigram stream so that "Mohammad Reza"
	// and "Mohammadreza" share most of their features.
	runes := []rune("^" + strings.ReplaceAll(key, " ", "") + "$")
	for i := 0; i+3 <= len(runes); i++ {
		h.add(vec, "c:"+string(runes[i:i+3]), 1)
	}
	for _, word := range strings.Fields(key) {
		h.add(vec, "w:"+word, 0.5)
	}

	normalize(vec)
	return vec, nil
}

// add hashes feature into vec. The high bit picks the sign so that
// collisions cancel out instead of piling up.
func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
