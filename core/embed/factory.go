package embed

import (
	"context"
	"os"
	"time"

	"github.com/openai/openai-go"

	loupeerrors "github.com/adalundhe/loupe/core/errors"
)

// Environment variables consulted when no API key is configured.
const (
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvGeminiKey = "GEMINI_API_KEY"
)

// FactoryConfig selects and tunes the embedding provider.
type FactoryConfig struct {
	// Provider is one of the Provider* constants; empty means hash.
	Provider string

	// Model overrides the provider's default model.
	Model string

	// Dimensions is the requested vector width; 0 means the default.
	Dimensions int

	// APIKey authenticates remote providers. When empty, the provider's
	// environment variable is consulted.
	APIKey string

	// Timeout bounds a single remote call.
	Timeout time.Duration

	// CacheSize bounds the vector cache wrapped around remote and local
	// model providers. The hash provider is never cached.
	CacheSize int

	// CacheDir stores downloaded ONNX models.
	CacheDir string

	// ORTLibraryPath points at the onnxruntime shared library directory.
	ORTLibraryPath string

	// Breaker tunes the circuit breaker guarding remote providers.
	Breaker loupeerrors.BreakerConfig

	// SkipModelLoad leaves the ONNX model unloaded (it then serves from
	// its deterministic fallback).
	SkipModelLoad bool
}

// FactoryResult reports which embedder was built and why.
type FactoryResult struct {
	Service  *Service
	Provider string
	Source   string
}

// NewEmbedderService builds the configured provider, falling back to the
// hash embedder when a remote provider cannot be constructed. Construction
// never fails for missing credentials; the degraded choice is reported in
// Source so callers can log it.
func NewEmbedderService(ctx context.Context, cfg FactoryConfig) *FactoryResult {
	switch cfg.Provider {
	case ProviderOpenAI:
		return newOpenAIService(cfg)
	case ProviderGemini:
		return newGeminiService(ctx, cfg)
	case ProviderONNX:
		return newONNXService(ctx, cfg)
	default:
		return hashResult(cfg, "hash")
	}
}

func newOpenAIService(cfg FactoryConfig) *FactoryResult {
	apiKey := resolveKey(cfg.APIKey, EnvOpenAIKey)
	if apiKey == "" {
		return hashResult(cfg, "hash-fallback")
	}

	embedder, err := NewOpenAIEmbedder(OpenAIConfig{
		APIKey:     apiKey,
		Model:      openai.EmbeddingModel(cfg.Model),
		Dimensions: cfg.Dimensions,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return hashResult(cfg, "hash-fallback")
	}

	return remoteResult(ProviderOpenAI, "openai-api", embedder, cfg)
}

func newGeminiService(ctx context.Context, cfg FactoryConfig) *FactoryResult {
	apiKey := resolveKey(cfg.APIKey, EnvGeminiKey)
	if apiKey == "" {
		return hashResult(cfg, "hash-fallback")
	}

	embedder, err := NewGeminiEmbedder(ctx, GeminiConfig{
		APIKey:     apiKey,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return hashResult(cfg, "hash-fallback")
	}

	return remoteResult(ProviderGemini, "gemini-api", embedder, cfg)
}

func newONNXService(ctx context.Context, cfg FactoryConfig) *FactoryResult {
	embedder, err := NewONNXEmbedder(ONNXConfig{
		ModelRepo:      cfg.Model,
		Dimensions:     cfg.Dimensions,
		CacheDir:       cfg.CacheDir,
		ORTLibraryPath: cfg.ORTLibraryPath,
	})
	if err != nil {
		return hashResult(cfg, "hash-fallback")
	}

	if !cfg.SkipModelLoad {
		if err := embedder.EnsureModel(ctx); err != nil {
			return hashResult(cfg, "hash-fallback")
		}
	}

	service := NewService(ProviderONNX, NewCachedEmbedder(embedder, cfg.CacheSize), nil)
	return &FactoryResult{
		Service:  service,
		Provider: ProviderONNX,
		Source:   "onnx-local",
	}
}

func remoteResult(provider, source string, embedder Embedder, cfg FactoryConfig) *FactoryResult {
	breaker := loupeerrors.NewCircuitBreaker(provider, cfg.Breaker)
	service := NewService(provider, NewCachedEmbedder(embedder, cfg.CacheSize), breaker)
	return &FactoryResult{
		Service:  service,
		Provider: provider,
		Source:   source,
	}
}

func hashResult(cfg FactoryConfig, source string) *FactoryResult {
	service := NewService(ProviderHash, NewHashEmbedder(cfg.Dimensions), nil)
	return &FactoryResult{
		Service:  service,
		Provider: ProviderHash,
		Source:   source,
	}
}

func resolveKey(configured, envVar string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(envVar)
}
