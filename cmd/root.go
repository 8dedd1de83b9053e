// Package cmd provides the loupe command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adalundhe/loupe/core/config"
	"github.com/adalundhe/loupe/core/credentials"
	"github.com/adalundhe/loupe/core/embed"
	"github.com/adalundhe/loupe/core/engine"
	"github.com/adalundhe/loupe/core/watch"
)

// =============================================================================
// Terminal Colors
// =============================================================================

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGray   = "\033[90m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

// =============================================================================
// Root Command
// =============================================================================

var (
	rootConfigPath string
	rootJSON       bool
	rootVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "loupe",
	Short: "Loupe - code relevance and confidence engine",
	Long: `Loupe retrieves the code most relevant to a natural-language intent,
scores every result across lexical, semantic, graph and history signals,
and reports calibrated confidence instead of bare rankings.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", config.DefaultPath, "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&rootJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Verbose output")
}

// =============================================================================
// Engine Bootstrap
// =============================================================================

// loadConfig loads the layered configuration: defaults, file, environment.
func loadConfig() (*config.Config, error) {
	manager := config.NewManager(rootConfigPath)
	if err := manager.Load(); err != nil {
		return nil, err
	}
	return manager.Get(), nil
}

// newLogger builds the CLI logger. Verbose lowers the level to debug; output
// goes to stderr so stdout stays parseable.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if rootVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newEmbedder resolves the provider credentials and builds the embedding
// service. A stored key loses to the provider's environment variable, and a
// missing key degrades to the hash provider rather than failing.
func newEmbedder(ctx context.Context, cfg *config.Config, logger *slog.Logger) *embed.Service {
	var apiKey string
	if store, err := credentials.Open(cfg.Store.Dir); err == nil {
		if key, err := store.Resolve(cfg.Embed.Provider); err == nil {
			apiKey = key
		}
	}

	result := embed.NewEmbedderService(ctx, embed.FactoryConfig{
		Provider:   cfg.Embed.Provider,
		Model:      cfg.Embed.Model,
		Dimensions: cfg.Embed.Dimensions,
		APIKey:     apiKey,
		Timeout:    cfg.Embed.Timeout(),
		CacheSize:  cfg.Embed.CacheSize,
		CacheDir:   cfg.Embed.ONNXDir,
	})
	if result.Provider != cfg.Embed.Provider {
		logger.Warn("embedding provider degraded",
			"requested", cfg.Embed.Provider,
			"active", result.Provider,
			"source", result.Source)
	}
	return result.Service
}

// openEngine assembles the full engine from configuration. The caller owns
// Close.
func openEngine(ctx context.Context) (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger()

	var watcher *watch.Watcher
	if cfg.Watch.Enabled && cfg.Watch.Root != "" {
		watcher, err = watch.New(watch.Config{
			Root:     cfg.Watch.Root,
			Debounce: cfg.Watch.Debounce(),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("watcher: %w", err)
		}
	}

	e, err := engine.New(ctx, cfg, engine.Options{
		Embedder: newEmbedder(ctx, cfg, logger),
		Watcher:  watcher,
		Logger:   logger,
	})
	if err != nil {
		if watcher != nil {
			watcher.Stop()
		}
		return nil, nil, err
	}
	return e, cfg, nil
}
