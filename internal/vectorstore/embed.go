package vectorstore

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// Embedder turns template/body text into vectors. Real embedding models are
// an external collaborator per spec §1 ("treated as pure functions"); these
// implementations are deterministic placeholders that satisfy the same
// text -> vector contract so the rest of the pipeline is exercised without
// a live model dependency.
type Embedder interface {
	// EmbedTier1 embeds a log template into the configured Tier-1 dimension.
	EmbedTier1(template string) []float32
	// EmbedTier2Dense embeds cluster text into the configured Tier-2 dimension.
	EmbedTier2Dense(text string) []float32
	// EmbedSparse produces a BM25-style sparse term-weight vector over a
	// fixed-size hashed vocabulary.
	EmbedSparse(text string) *SparseVector
}

// hashEmbedder is the default, zero-dependency Embedder. Tier1Mode selects
// between a binary (SimHash-style) projection, suited to dot-product/cosine
// similarity on rhythm templates, and a dense hashed-ngram embedding for
// deployments that want smoother similarity gradients (spec §9 Open
// Question: Tier-1 vector representation is deployment-defined).
type hashEmbedder struct {
	tier1Dim int
	tier2Dim int
	binary   bool
}

// NewHashEmbedder builds the default embedder.
func NewHashEmbedder(tier1Dim, tier2Dim int, tier1Mode string) Embedder {
	return &hashEmbedder{
		tier1Dim: tier1Dim,
		tier2Dim: tier2Dim,
		binary:   tier1Mode != "dense",
	}
}

func (e *hashEmbedder) EmbedTier1(template string) []float32 {
	if e.binary {
		return simhashProjection(template, e.tier1Dim)
	}
	return hashedNgramEmbedding(template, e.tier1Dim)
}

func (e *hashEmbedder) EmbedTier2Dense(text string) []float32 {
	return hashedNgramEmbedding(text, e.tier2Dim)
}

func (e *hashEmbedder) EmbedSparse(text string) *SparseVector {
	const vocabSize = 1 << 16
	counts := make(map[uint32]float32)
	for _, tok := range tokenize(text) {
		idx := hashToken(tok) % vocabSize
		counts[idx]++
	}
	indices := make([]uint32, 0, len(counts))
	values := make([]float32, 0, len(counts))
	for idx, c := range counts {
		// log-scaled term frequency, the BM25 weighting original_source
		// approximates via qdrant's built-in IDF modifier at index time.
		indices = append(indices, idx)
		values = append(values, float32(1+math.Log(float64(c))))
	}
	return &SparseVector{Indices: indices, Values: values}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

func hashToken(tok string) uint32 {
	sum := sha256.Sum256([]byte(tok))
	return binary.BigEndian.Uint32(sum[:4])
}

// simhashProjection produces a unit-length vector whose entries are
// ±1/sqrt(dim): each dimension is the sign of the sum of per-token
// hash-bit contributions, scaled by normalize, a SimHash-style
// projection that keeps templates differing in only their wildcard runs
// close together under dot-product similarity.
func simhashProjection(text string, dim int) []float32 {
	acc := make([]int, dim)
	for _, tok := range tokenize(text) {
		h := sha256.Sum256([]byte(tok))
		for i := 0; i < dim; i++ {
			byteIdx := i / 8
			bitIdx := uint(i % 8)
			if byteIdx >= len(h) {
				byteIdx %= len(h)
			}
			if h[byteIdx]&(1<<bitIdx) != 0 {
				acc[i]++
			} else {
				acc[i]--
			}
		}
	}
	vec := make([]float32, dim)
	var norm float64
	for i, v := range acc {
		sign := float32(1)
		if v < 0 {
			sign = -1
		}
		vec[i] = sign
		norm += float64(sign * sign)
	}
	return normalize(vec)
}

// hashedNgramEmbedding produces a dense vector by hashing overlapping
// trigrams into buckets, giving smoother similarity between templates that
// share substrings even without a trained model.
func hashedNgramEmbedding(text string, dim int) []float32 {
	vec := make([]float32, dim)
	runes := []rune(strings.ToLower(text))
	const n = 3
	if len(runes) < n {
		if len(runes) > 0 {
			h := hashToken(string(runes))
			vec[int(h)%dim] += 1
		}
		return normalize(vec)
	}
	for i := 0; i+n <= len(runes); i++ {
		gram := string(runes[i : i+n])
		h := hashToken(gram)
		idx := int(h % uint32(dim))
		sign := float32(1)
		if (h>>31)&1 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}
	return normalize(vec)
}

func normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v * v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
