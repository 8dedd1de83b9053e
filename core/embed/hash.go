package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/adalundhe/loupe/core/lexical"
)

// Feature-family weights for the hash embedder. Identifier parts carry the
// most signal for code retrieval: a query that says "validate email" must
// land near an entity named validateEmail even though the surface strings
// never match.
const (
	hashTokenWeight   = 0.35
	hashPartWeight    = 0.40
	hashTrigramWeight = 0.25

	hashTokenProbes = 8
	hashNgramProbes = 4
)

// HashEmbedder is the deterministic fallback provider. It embeds text by
// feature hashing three families (whole tokens, split identifier parts,
// character trigrams) into a fixed-width vector with signed multi-probe
// hashing, then unit-normalizes. No model, no network, no state: the same
// text always produces the same vector, which keeps index and query vectors
// in one space without any provider available.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hash embedder with the given vector width.
// Widths below 1 use DefaultDimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension < 1 {
		dimension = DefaultDimension
	}
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) Dimension() int {
	return h.dimension
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

func (h *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = h.embed(text)
	}
	return results, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dimension)

	// Tokens keep their case until after identifier splitting: lowercasing
	// first would erase the camelCase boundaries SplitIdentifier needs.
	tokens := hashTokenize(text)
	parts := identifierParts(tokens)
	trigrams := charNgrams(text, 3)

	h.addFeatures(vec, lowerAll(tokens), hashTokenWeight, hashTokenProbes)
	h.addFeatures(vec, parts, hashPartWeight, hashTokenProbes)
	h.addFeatures(vec, trigrams, hashTrigramWeight, hashNgramProbes)

	normalizeVector(vec)
	return vec
}

// addFeatures scatters each feature into the vector at probe positions
// derived from its hash, with hash-derived signs so unrelated features
// cancel rather than accumulate.
func (h *HashEmbedder) addFeatures(vec []float32, features []string, weight float64, probes int) {
	if len(features) == 0 {
		return
	}

	w := float32(weight / math.Sqrt(float64(len(features))))

	for _, f := range features {
		seed := fnvHash(f)
		state := seed
		for i := 0; i < probes; i++ {
			state = state*6364136223846793005 + 1442695040888963407
			idx := int(state % uint64(h.dimension))
			sign := float32(1)
			if (seed>>uint(i))&1 == 0 {
				sign = -1
			}
			vec[idx] += w * sign
		}
	}
}

// hashTokenize splits on anything that is not a letter, digit, or
// underscore, keeping tokens of length two or more. Case is preserved.
func hashTokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
			continue
		}
		if current.Len() >= 2 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	if current.Len() >= 2 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

func lowerAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = strings.ToLower(tok)
	}
	return out
}

// identifierParts expands compound tokens into their identifier parts, so
// "validate_email" and "validateEmail" contribute the same features.
func identifierParts(tokens []string) []string {
	var parts []string
	for _, tok := range tokens {
		split := lexical.SplitIdentifier(tok)
		if len(split) < 2 {
			continue
		}
		parts = append(parts, split...)
	}
	return parts
}

func charNgrams(text string, n int) []string {
	text = strings.ToLower(text)
	if len(text) < n {
		return nil
	}

	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i+n <= len(text); i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

func normalizeVector(vec []float32) {
	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(mag))
	for i := range vec {
		vec[i] *= inv
	}
}
