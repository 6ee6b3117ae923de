package knowledge

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimension is the width of vectors produced by HashEmbedder
const DefaultDimension = 128

// Embedder turns text into a fixed-width vector
type Embedder interface {
	Embed(text string) []float32
	Dimension() int
}

// HashEmbedder is a deterministic feature-hashing embedder. Tokens containing
// Han characters contribute rune unigrams and bigrams; other tokens contribute
// the lowercased word. Whitespace and punctuation never form a feature.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a HashEmbedder. Non-positive dims use DefaultDimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int {
	return h.dim
}

// Embed returns an L2-normalised vector, or nil when text has no features.
func (h *HashEmbedder) Embed(text string) []float32 {
	vec := make([]float64, h.dim)
	features := 0

	for _, token := range tokenize(text) {
		if !hasHan(token) {
			h.add(vec, token)
			features++
			continue
		}

		runes := []rune(token)
		for i, r := range runes {
			h.add(vec, string(r))
			features++
			if i+1 < len(runes) {
				h.add(vec, string(runes[i:i+2]))
				features++
			}
		}
	}

	if features == 0 {
		return nil
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.dim)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (h *HashEmbedder) add(vec []float64, feature string) {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(feature))
	vec[hasher.Sum32()%uint32(h.dim)]++
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func hasHan(token string) bool {
	for _, r := range token {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
