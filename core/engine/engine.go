// Package engine assembles the retrieval system: corpus ingest and snapshot
// publication, query orchestration over a fixed worker pool, response
// assembly with feedback tokens, the feedback entrypoint, and the background
// authority recompute. The engine owns the epoch lifecycle; everything below
// it operates on the immutable snapshot it publishes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/adalundhe/loupe/core/config"
	"github.com/adalundhe/loupe/core/confidence"
	"github.com/adalundhe/loupe/core/corpus"
	"github.com/adalundhe/loupe/core/embed"
	loupeerrors "github.com/adalundhe/loupe/core/errors"
	"github.com/adalundhe/loupe/core/feedback"
	"github.com/adalundhe/loupe/core/graph"
	"github.com/adalundhe/loupe/core/ledger"
	"github.com/adalundhe/loupe/core/lexical"
	"github.com/adalundhe/loupe/core/ranker"
	"github.com/adalundhe/loupe/core/retriever"
	"github.com/adalundhe/loupe/core/semantic"
	"github.com/adalundhe/loupe/core/store"
	"github.com/adalundhe/loupe/core/watch"
	"github.com/adalundhe/loupe/core/weights"
)

// epochState is everything one published epoch serves queries from. Replaced
// wholesale on ingest; in-flight queries keep the state they started with.
type epochState struct {
	snap        *corpus.Snapshot
	lexIndex    *lexical.Index
	lexSearcher *lexical.Searcher
	semStore    *semantic.Store
	semSearcher *semantic.Searcher
	retriever   *retriever.Retriever
}

// Engine is the top-level retrieval system.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	store   *store.Store
	ledger  *ledger.Ledger
	weights *weights.LearnedWeights
	learner *feedback.Learner
	embed   *embed.Service
	ranker  *ranker.Ranker
	watcher *watch.Watcher

	state     atomic.Pointer[epochState]
	authority atomic.Pointer[graph.Authority]

	pool  *pool
	cache *ristretto.Cache

	bg       sync.WaitGroup
	bgCancel context.CancelFunc

	closeOnce sync.Once
}

// Options carries the collaborators the engine does not construct itself.
type Options struct {
	// Embedder serves both index-time and query-time embedding. Required.
	Embedder *embed.Service

	// Watcher tracks source staleness; nil disables the
	// watch_state_missing gap.
	Watcher *watch.Watcher

	// Logger defaults to the process logger.
	Logger *slog.Logger
}

// New opens the engine's stores, loads persisted weights, restores the last
// published snapshot when one exists, and starts the background tasks. A
// corrupt ledger is fatal here, never discovered mid-query.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, loupeerrors.Wrap(loupeerrors.ClassInvalidArgument, "engine config", err)
	}
	if opts.Embedder == nil {
		return nil, loupeerrors.New(loupeerrors.ClassInvalidArgument, "an embedder service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	corpusStore, err := store.Open(cfg.Store.CorpusDB, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	ledgerStore, err := ledger.Open(cfg.Store.LedgerDB, ledger.WithLogger(logger))
	if err != nil {
		_ = corpusStore.Close()
		return nil, err
	}

	lw := weights.NewWithOptions(cfg.Signals.InitialWeights, weights.Config{
		MaxStep: cfg.Feedback.NudgeStep,
	}, corpusStore, logger)
	if err := lw.LoadPersisted(ctx); err != nil {
		logger.Warn("persisted weights unavailable, using initial", "error", err)
	}

	window := feedback.NewWindowWithTuning(
		cfg.Feedback.WindowSize,
		cfg.Feedback.NudgeMinObservations,
		cfg.Feedback.NudgeGapThreshold,
		cfg.Feedback.NudgeStep,
	)

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.Cache.NumCounters,
		MaxCost:     cfg.Cache.MaxCost,
		BufferItems: cfg.Cache.BufferItems,
	})
	if err != nil {
		_ = ledgerStore.Close()
		_ = corpusStore.Close()
		return nil, fmt.Errorf("result cache: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		store:   corpusStore,
		ledger:  ledgerStore,
		weights: lw,
		learner: feedback.NewWithPolicy(ledgerStore, lw, window, confidence.UpdatePolicy{
			PositiveDelta: cfg.Feedback.PositiveDelta,
			NegativeDelta: cfg.Feedback.NegativeDelta,
			Floor:         cfg.Feedback.ConfidenceFloor,
			Ceiling:       cfg.Feedback.ConfidenceCeiling,
		}, logger),
		embed:   opts.Embedder,
		watcher: opts.Watcher,
		ranker: ranker.New(ranker.Config{
			NeighborBoost:   cfg.Retrieval.NeighborBoost,
			PathPenaltyBase: cfg.Retrieval.PathPenaltyBase,
		}),
		pool:  newPool(cfg.Engine.Workers, cfg.Engine.QueueDepth),
		cache: cache,
	}

	if err := e.restoreSnapshot(ctx); err != nil {
		logger.Warn("no snapshot restored", "error", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	e.bgCancel = cancel
	e.startBackground(bgCtx)
	return e, nil
}

// restoreSnapshot republishes the last persisted epoch, rebuilding the
// lexical index in memory and reopening the vector store when present.
func (e *Engine) restoreSnapshot(ctx context.Context) error {
	snap, err := e.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	ix, err := lexical.NewMemoryIndex()
	if err != nil {
		return err
	}
	if err := ix.IndexSnapshot(ctx, snap); err != nil {
		_ = ix.Close()
		return err
	}

	var semStore *semantic.Store
	if s, err := semantic.OpenStore(e.cfg.Store.VectorFile); err == nil {
		semStore = s
	} else {
		e.logger.Warn("vector store unavailable, semantic channel disabled", "error", err)
	}

	e.publish(snap, ix, semStore)
	e.logger.Info("snapshot restored",
		"epoch", snap.Epoch(),
		"entities", snap.EntityCount(),
		"edges", snap.EdgeCount())
	return nil
}

// publish swaps the epoch state and recomputes authority inline once so the
// new epoch never serves with the old epoch's ranking.
func (e *Engine) publish(snap *corpus.Snapshot, ix *lexical.Index, semStore *semantic.Store) {
	var semSearcher *semantic.Searcher
	if semStore != nil {
		semSearcher = semantic.NewSearcher(semStore, e.embed, e.cfg.Retrieval.SemanticThreshold)
	}
	lexSearcher := lexical.NewSearcher(ix)

	state := &epochState{
		snap:        snap,
		lexIndex:    ix,
		lexSearcher: lexSearcher,
		semStore:    semStore,
		semSearcher: semSearcher,
		retriever: retriever.New(lexSearcher, semSearcher, nil, e.weights, retriever.Config{
			MaxHops:         e.cfg.Retrieval.MaxHops,
			LexicalK:        e.cfg.Retrieval.LexicalK,
			SemanticK:       e.cfg.Retrieval.SemanticK,
			MaxResults:      e.cfg.Retrieval.MaxResults,
			FallbackCeiling: e.cfg.Retrieval.FallbackCeiling,
			ChannelTimeout:  e.cfg.Engine.ChannelTimeout(),
		}, e.logger),
	}

	old := e.state.Swap(state)
	e.authority.Store(graph.ComputeAuthority(snap, graph.DefaultDamping, graph.DefaultMaxIter))
	e.cache.Clear()

	if old != nil {
		if old.lexIndex != nil {
			_ = old.lexIndex.Close()
		}
		if old.semStore != nil {
			_ = old.semStore.Close()
		}
	}
}

// startBackground launches the authority recompute ticker and the token
// pruning sweep.
func (e *Engine) startBackground(ctx context.Context) {
	interval := e.cfg.Engine.AuthorityInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.recomputeAuthority()
				if pruned, err := e.learner.PruneTokens(ctx); err == nil && pruned > 0 {
					e.logger.Info("expired feedback tokens pruned", "count", pruned)
				}
			}
		}
	}()
}

// recomputeAuthority refreshes the authority ranking off the query path.
func (e *Engine) recomputeAuthority() {
	state := e.state.Load()
	if state == nil {
		return
	}
	start := time.Now()
	auth := graph.ComputeAuthority(state.snap, graph.DefaultDamping, graph.DefaultMaxIter)
	e.authority.Store(auth)
	e.logger.Debug("authority recomputed",
		"epoch", state.snap.Epoch(),
		"entities", auth.Len(),
		"elapsed", time.Since(start))
}

// Snapshot returns the currently published snapshot, nil before first ingest.
func (e *Engine) Snapshot() *corpus.Snapshot {
	state := e.state.Load()
	if state == nil {
		return nil
	}
	return state.snap
}

// Weights exposes the learned weights for the CLI's weights surface.
func (e *Engine) Weights() *weights.LearnedWeights {
	return e.weights
}

// Ledger exposes the confidence ledger for the CLI's stats surface.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Feedback applies a feedback submission.
func (e *Engine) Feedback(ctx context.Context, sub feedback.Submission) (*feedback.Receipt, error) {
	return e.learner.Apply(ctx, sub)
}

// Stats summarizes the engine for the stats surface.
type Stats struct {
	Epoch         uint64             `json:"epoch"`
	Corpus        *corpus.Stats      `json:"corpus,omitempty"`
	Ledger        ledger.Stats       `json:"ledger"`
	WeightVersion uint64             `json:"weight_version"`
	Weights       map[string]float64 `json:"weights"`
	Embedder      string             `json:"embedder"`
	Degraded      bool               `json:"embedder_degraded"`
}

// Stats collects the current engine statistics.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	ledgerStats, err := e.ledger.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}

	snapWeights := e.weights.Snapshot()
	st := Stats{
		Ledger:        ledgerStats,
		WeightVersion: snapWeights.Version,
		Weights:       snapWeights.Map(),
		Embedder:      e.embed.Provider(),
		Degraded:      e.embed.Degraded(),
	}
	if snap := e.Snapshot(); snap != nil {
		cs := snap.Stats()
		st.Epoch = snap.Epoch()
		st.Corpus = &cs
	}
	return st, nil
}

// Close flushes weights and releases every store. Safe to call twice.
func (e *Engine) Close() error {
	var firstErr error
	e.closeOnce.Do(func() {
		e.bgCancel()
		e.bg.Wait()
		e.pool.stop()

		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.weights.Flush(flushCtx); err != nil {
			e.logger.Warn("weight flush on close failed", "error", err)
		}

		if state := e.state.Load(); state != nil {
			if state.lexIndex != nil {
				_ = state.lexIndex.Close()
			}
			if state.semStore != nil {
				_ = state.semStore.Close()
			}
		}
		if e.watcher != nil {
			e.watcher.Stop()
		}
		if err := e.ledger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.cache.Close()
	})
	return firstErr
}
