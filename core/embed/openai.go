package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	openaiDefaultModel     = openai.EmbeddingModelTextEmbedding3Small
	openaiDefaultBatchSize = 128
	openaiDefaultTimeout   = 30 * time.Second
	openaiDefaultRetries   = 3
)

// Native widths of the models that accept a dimensions parameter. Requested
// dimensions may shrink a vector but never exceed the native width.
var openaiModelDims = map[openai.EmbeddingModel]int{
	openai.EmbeddingModelTextEmbedding3Small: 1536,
	openai.EmbeddingModelTextEmbedding3Large: 3072,
}

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey     string
	Model      openai.EmbeddingModel
	Dimensions int
	BaseURL    string
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
}

// OpenAIEmbedder embeds text through the OpenAI embeddings endpoint.
// Transport-level retries are delegated to the client library.
type OpenAIEmbedder struct {
	config OpenAIConfig
	client *openai.Client

	mu         sync.RWMutex
	totalCalls int64
	lastError  error
}

// NewOpenAIEmbedder creates an OpenAI provider. The API key is required;
// zero values elsewhere fall back to defaults.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key required")
	}
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = openaiDefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = openaiDefaultRetries
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = openaiDefaultBatchSize
	}

	native, ok := openaiModelDims[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("openai: unsupported model %q", cfg.Model)
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimension
	}
	if cfg.Dimensions > native {
		return nil, fmt.Errorf("openai: model %q caps at %d dimensions, got %d", cfg.Model, native, cfg.Dimensions)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)

	return &OpenAIEmbedder{
		config: cfg,
		client: &client,
	}, nil
}

func (o *OpenAIEmbedder) Dimension() int {
	return o.config.Dimensions
}

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New("openai: empty response")
	}
	return embeddings[0], nil
}

func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += o.config.BatchSize {
		end := min(i+o.config.BatchSize, len(texts))

		embeddings, err := o.embedOnce(ctx, texts[i:end])
		if err != nil {
			o.recordError(err)
			return nil, fmt.Errorf("openai: batch %d failed: %w", i/o.config.BatchSize, err)
		}

		results = append(results, embeddings...)
	}

	return results, nil
}

func (o *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          o.config.Model,
		Dimensions:     openai.Int(int64(o.config.Dimensions)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})

	o.mu.Lock()
	o.totalCalls++
	o.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API documents order by index; honor the index field anyway.
	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		out[item.Index] = vec
	}

	return out, nil
}

func (o *OpenAIEmbedder) recordError(err error) {
	o.mu.Lock()
	o.lastError = err
	o.mu.Unlock()
}

// Stats reports the call count and the most recent failure.
func (o *OpenAIEmbedder) Stats() (calls int64, lastErr error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.totalCalls, o.lastError
}
