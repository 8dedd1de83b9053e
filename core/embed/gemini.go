package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"google.golang.org/genai"
)

const (
	geminiDefaultModel     = "gemini-embedding-001"
	geminiDefaultBatchSize = 100
	geminiDefaultTimeout   = 30 * time.Second
	geminiNativeDimension  = 3072
)

// Task types accepted by the Gemini embedding endpoint.
const (
	GeminiTaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	GeminiTaskRetrievalQuery    = "RETRIEVAL_QUERY"
	GeminiTaskCodeRetrieval     = "CODE_RETRIEVAL_QUERY"
	GeminiTaskSimilarity        = "SEMANTIC_SIMILARITY"
)

// GeminiConfig configures the Gemini embedding provider.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	TaskType   string
	BaseURL    string
	BatchSize  int
	Timeout    time.Duration
}

// GeminiEmbedder embeds text through the Gemini API.
type GeminiEmbedder struct {
	config GeminiConfig
	client *genai.Client

	mu         sync.RWMutex
	totalCalls int64
	lastError  error
}

// NewGeminiEmbedder creates a Gemini provider. The API key is required;
// zero values elsewhere fall back to defaults.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key required")
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimension
	}
	if cfg.Dimensions > geminiNativeDimension {
		return nil, fmt.Errorf("gemini: model %q caps at %d dimensions, got %d", cfg.Model, geminiNativeDimension, cfg.Dimensions)
	}
	if cfg.TaskType == "" {
		cfg.TaskType = GeminiTaskRetrievalDocument
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = geminiDefaultBatchSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = geminiDefaultTimeout
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &GeminiEmbedder{
		config: cfg,
		client: client,
	}, nil
}

func (g *GeminiEmbedder) Dimension() int {
	return g.config.Dimensions
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New("gemini: empty response")
	}
	return embeddings[0], nil
}

func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += g.config.BatchSize {
		end := min(i+g.config.BatchSize, len(texts))

		embeddings, err := g.embedOnce(ctx, texts[i:end])
		if err != nil {
			g.recordError(err)
			return nil, fmt.Errorf("gemini: batch %d failed: %w", i/g.config.BatchSize, err)
		}

		results = append(results, embeddings...)
	}

	return results, nil
}

func (g *GeminiEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.config.Model, contents, &genai.EmbedContentConfig{
		TaskType:             g.config.TaskType,
		OutputDimensionality: genai.Ptr(int32(g.config.Dimensions)),
	})

	g.mu.Lock()
	g.totalCalls++
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("nil embedding at index %d", i)
		}
		vec := make([]float32, len(emb.Values))
		copy(vec, emb.Values)
		// Truncated output dimensionality is not normalized server-side.
		normalizeVector(vec)
		out[i] = vec
	}

	return out, nil
}

func (g *GeminiEmbedder) recordError(err error) {
	g.mu.Lock()
	g.lastError = err
	g.mu.Unlock()
}

// Stats reports the call count and the most recent failure.
func (g *GeminiEmbedder) Stats() (calls int64, lastErr error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.totalCalls, g.lastError
}
