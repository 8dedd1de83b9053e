// Package embed provides the embedding providers behind the semantic
// retrieval channel. Every provider implements the same black-box Embedder
// contract; the factory selects one from configuration and always pairs it
// with the deterministic hash embedder so a dead remote provider degrades
// queries instead of failing them.
package embed

import "context"

// DefaultDimension is the vector width used when configuration does not
// request one. The hash embedder supports any width; remote providers
// truncate to it via their dimension parameters.
const DefaultDimension = 256

// Provider names accepted by the factory.
const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderONNX   = "onnx"
)

// Embedder converts text into fixed-width vectors. Implementations must be
// safe for concurrent use and must return unit-normalized vectors of exactly
// Dimension() values.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector width this embedder produces.
	Dimension() int
}
