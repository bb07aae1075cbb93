package vectorstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64, 256, "binary")

	v1 := e.EmbedTier1("connection refused to <HOST>")
	v2 := e.EmbedTier1("connection refused to <HOST>")
	require.Equal(t, v1, v2, "embedding the same template twice must be deterministic")

	v3 := e.EmbedTier1("disk full on <HOST>")
	require.NotEqual(t, v1, v3)
}

func TestHashEmbedderDimensions(t *testing.T) {
	e := NewHashEmbedder(64, 256, "dense")

	require.Len(t, e.EmbedTier1("hello world"), 64)
	require.Len(t, e.EmbedTier2Dense("hello world, this is a longer body"), 256)
}

func TestHashEmbedderBinaryModeUnitNorm(t *testing.T) {
	e := NewHashEmbedder(32, 32, "binary")
	vec := e.EmbedTier1("some log template with several tokens")

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v * v)
	}
	require.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-6)
}

func TestHashEmbedderShortText(t *testing.T) {
	e := NewHashEmbedder(16, 16, "dense")
	// fewer runes than the trigram window; must not panic and must return the right length
	vec := e.EmbedTier2Dense("ok")
	require.Len(t, vec, 16)
}

func TestEmbedSparse(t *testing.T) {
	e := NewHashEmbedder(64, 256, "binary")
	sparse := e.EmbedSparse("timeout timeout connecting to upstream")

	require.NotEmpty(t, sparse.Indices)
	require.Equal(t, len(sparse.Indices), len(sparse.Values))
	for _, v := range sparse.Values {
		require.Greater(t, v, float32(0))
	}
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("Connection-Reset by PEER: 10.0.0.1!")
	require.Contains(t, tokens, "connection")
	require.Contains(t, tokens, "reset")
	require.Contains(t, tokens, "peer")
}
