package embed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

const (
	onnxDefaultRepo      = "sentence-transformers/all-MiniLM-L6-v2"
	onnxDefaultDimension = 384
)

// ONNXConfig configures the local ONNX embedding provider.
type ONNXConfig struct {
	// ModelRepo is the HuggingFace repository to download when the model
	// is not already cached.
	ModelRepo string

	// Dimensions is the model's output width.
	Dimensions int

	// CacheDir stores downloaded models.
	CacheDir string

	// ORTLibraryPath points at the onnxruntime shared library directory.
	ORTLibraryPath string

	UseGPU bool
}

// ONNXEmbedder runs a local sentence-transformer model through onnxruntime.
// Until EnsureModel succeeds it serves vectors from the hash embedder, so a
// missing model or runtime library degrades instead of failing.
type ONNXEmbedder struct {
	config    ONNXConfig
	modelPath string
	fallback  *HashEmbedder

	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	loaded   bool
}

// NewONNXEmbedder creates a local provider. The model is not loaded until
// EnsureModel is called.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.ModelRepo == "" {
		cfg.ModelRepo = onnxDefaultRepo
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = onnxDefaultDimension
	}
	if cfg.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("onnx: resolve home dir: %w", err)
		}
		cfg.CacheDir = filepath.Join(home, ".loupe", "models")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("onnx: create cache dir: %w", err)
	}

	return &ONNXEmbedder{
		config:    cfg,
		modelPath: filepath.Join(cfg.CacheDir, filepath.Base(cfg.ModelRepo)),
		fallback:  NewHashEmbedder(cfg.Dimensions),
	}, nil
}

func (o *ONNXEmbedder) Dimension() int {
	return o.config.Dimensions
}

func (o *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !o.IsReady() {
		return o.fallback.Embed(ctx, text)
	}

	results, err := o.runInference([]string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("onnx: no embedding returned")
	}
	return results[0], nil
}

func (o *ONNXEmbedder) EmbedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if !o.IsReady() {
		return o.fallback.EmbedBatch(ctx, batch)
	}
	return o.runInference(batch)
}

// IsReady reports whether the model is loaded. When false, calls are served
// by the fallback embedder.
func (o *ONNXEmbedder) IsReady() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loaded
}

// Fallback exposes the deterministic embedder used before the model loads.
func (o *ONNXEmbedder) Fallback() Embedder {
	return o.fallback
}

// EnsureModel downloads the model if it is missing and loads it into an
// onnxruntime session. Safe to call more than once.
func (o *ONNXEmbedder) EnsureModel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.loaded {
		return nil
	}

	if _, err := os.Stat(o.modelPath); os.IsNotExist(err) {
		if err := o.downloadModel(ctx); err != nil {
			return fmt.Errorf("onnx: download model: %w", err)
		}
	}

	if err := o.loadModel(); err != nil {
		return fmt.Errorf("onnx: load model: %w", err)
	}

	o.loaded = true
	return nil
}

func (o *ONNXEmbedder) downloadModel(_ context.Context) error {
	modelPath, err := hugot.DownloadModel(o.config.ModelRepo, o.config.CacheDir, hugot.NewDownloadOptions())
	if err != nil {
		return err
	}
	o.modelPath = modelPath
	return nil
}

func (o *ONNXEmbedder) loadModel() error {
	sessionOpts := []options.WithOption{
		options.WithIntraOpNumThreads(runtime.NumCPU()),
	}
	if o.config.ORTLibraryPath != "" {
		sessionOpts = append(sessionOpts, options.WithOnnxLibraryPath(o.config.ORTLibraryPath))
	}
	if o.config.UseGPU {
		sessionOpts = append(sessionOpts, options.WithCuda(nil))
	}

	session, err := hugot.NewORTSession(sessionOpts...)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: o.modelPath,
		Name:      filepath.Base(o.config.ModelRepo),
	})
	if err != nil {
		session.Destroy()
		return fmt.Errorf("create pipeline: %w", err)
	}

	o.session = session
	o.pipeline = pipeline
	return nil
}

func (o *ONNXEmbedder) runInference(batch []string) ([][]float32, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.pipeline == nil {
		return nil, fmt.Errorf("onnx: pipeline not initialized")
	}

	output, err := o.pipeline.RunPipeline(batch)
	if err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	return output.Embeddings, nil
}

// Close tears down the onnxruntime session.
func (o *ONNXEmbedder) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	o.pipeline = nil
	o.loaded = false
	return nil
}
