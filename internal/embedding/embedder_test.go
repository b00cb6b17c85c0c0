package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamps to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"45 degrees", []float32{1, 0}, []float32{1, 1}, math.Sqrt(2) / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-6)
		})
	}

	t.Run("symmetric", func(t *testing.T) {
		a, b := []float32{0.3, 0.1, 0.9}, []float32{0.5, 0.7, 0.2}
		ab, err := CosineSimilarity(a, b)
		require.NoError(t, err)
		ba, err := CosineSimilarity(b, a)
		require.NoError(t, err)
		assert.Equal(t, ab, ba)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
		require.Error(t, err)
	})
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()

	_, err := NewHashEmbedder(0)
	require.Error(t, err)

	h, err := NewHashEmbedder(256)
	require.NoError(t, err)
	assert.Equal(t, "hash", h.Provider())
	assert.Equal(t, "trigram-256", h.Model())

	t.Run("deterministic and case insensitive", func(t *testing.T) {
		a, err := h.Embed(ctx, "University of Tehran")
		require.NoError(t, err)
		b, err := h.Embed(ctx, "  university   OF tehran ")
		require.NoError(t, err)
		assert.Equal(t, a, b)

		sim, err := CosineSimilarity(a, b)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sim, 1e-6)
	})

	t.Run("unit length", func(t *testing.T) {
		v, err := h.Embed(ctx, "Mohammad Rezaei")
		require.NoError(t, err)
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	})

	t.Run("spelling variants score higher than unrelated names", func(t *testing.T) {
		base, err := h.Embed(ctx, "Mohammadreza Rezaei")
		require.NoError(t, err)
		variant, err := h.Embed(ctx, "Mohammad Reza Rezaei")
		require.NoError(t, err)
		other, err := h.Embed(ctx, "Sharif University of Technology")
		require.NoError(t, err)

		near, err := CosineSimilarity(base, variant)
		require.NoError(t, err)
		far, err := CosineSimilarity(base, other)
		require.NoError(t, err)
		assert.Greater(t, near, far)
		assert.Greater(t, near, 0.5)
	})

	t.Run("blank text gives zero vector", func(t *testing.T) {
		v, err := h.Embed(ctx, "   ")
		require.NoError(t, err)
		assert.Len(t, v, 256)
		for _, x := range v {
			assert.Zero(t, x)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := h.Embed(cctx, "x")
		require.ErrorIs(t, err, context.Canceled)
	})
}
