package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adalundhe/loupe/core/confidence"
	"github.com/adalundhe/loupe/core/corpus"
	loupeerrors "github.com/adalundhe/loupe/core/errors"
	"github.com/adalundhe/loupe/core/ledger"
	"github.com/adalundhe/loupe/core/retriever"
)

// Pack is one retrieved entity with its scoring evidence, as surfaced to
// callers.
type Pack struct {
	EntityID    string                     `json:"entity_id"`
	Name        string                     `json:"name"`
	Kind        string                     `json:"kind"`
	Path        string                     `json:"path"`
	Line        int                        `json:"line,omitempty"`
	Signals     map[string]float64         `json:"signals"`
	Combined    confidence.ConfidenceValue `json:"combined"`
	Explanation []string                   `json:"explanation"`
	GraphPath   []string                   `json:"graph_path,omitempty"`
}

// Response is one query's full answer.
type Response struct {
	Packs []Pack `json:"packs"`

	// Confidence is the top pack's fused numeric confidence, zero when the
	// result set is empty.
	Confidence float64 `json:"confidence"`

	CoverageGaps  []string `json:"coverage_gaps,omitempty"`
	FeedbackToken string   `json:"feedback_token"`
	LatencyMS     int64    `json:"latency_ms"`
	Epoch         uint64   `json:"epoch"`
	Fallback      bool     `json:"fallback,omitempty"`
	Cached        bool     `json:"cached,omitempty"`
}

// cachedResult is the cache payload: everything but the feedback token,
// which is issued fresh per serve so replayed queries stay rateable.
type cachedResult struct {
	packs      []Pack
	confidence float64
	gaps       []string
	fallback   bool
	refs       []ledger.CandidateRef
}

// Query runs one retrieval request through the worker pool and assembles the
// response. Deadline expiry degrades the result; only invalid requests and
// engine-state failures error.
func (e *Engine) Query(ctx context.Context, req retriever.Request) (*Response, error) {
	start := time.Now()

	state := e.state.Load()
	if state == nil {
		return nil, loupeerrors.New(loupeerrors.ClassInsufficientData,
			"no corpus indexed; run ingest first")
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	deadline := e.cfg.Engine.DefaultDeadline()
	if req.DeadlineMS > 0 {
		deadline = time.Duration(req.DeadlineMS) * time.Millisecond
	}
	qctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	key := e.cacheKey(state.snap.Epoch(), req)
	if hit, ok := e.cache.Get(key); ok {
		if cached, ok := hit.(*cachedResult); ok {
			return e.respond(ctx, state.snap.Epoch(), cached, start, true)
		}
	}

	var (
		result *retriever.Result
		rerr   error
	)
	err := e.pool.run(qctx, func() {
		result, rerr = state.retriever.Retrieve(qctx, state.snap, e.authority.Load(), req)
		if rerr == nil {
			e.ranker.Rank(result, state.snap, e.authority.Load())
		}
	})
	if err != nil {
		return nil, err
	}
	if rerr != nil {
		return nil, rerr
	}

	e.annotateStaleness(state.snap, result)
	if e.embed.Degraded() {
		result.AddGap(retriever.GapEmbedderUnavailable)
	}

	cached := e.assemble(state.snap, result)
	e.cache.SetWithTTL(key, cached, int64(len(cached.packs)+1), e.cfg.Cache.TTL())

	return e.respond(ctx, state.snap.Epoch(), cached, start, false)
}

// annotateStaleness adds the watch_state_missing gap when any returned
// candidate's source drifted since indexing.
func (e *Engine) annotateStaleness(snap *corpus.Snapshot, result *retriever.Result) {
	if e.watcher == nil {
		return
	}
	for _, c := range result.Candidates {
		entity := snap.Entity(c.EntityID)
		if entity == nil {
			continue
		}
		if e.watcher.IsStale(entity.Path) {
			result.AddGap(retriever.GapWatchStateMissing)
			c.Explain("source %s changed since indexing", entity.Path)
		}
	}
}

// assemble converts the ranked result into the cacheable response payload.
func (e *Engine) assemble(snap *corpus.Snapshot, result *retriever.Result) *cachedResult {
	cached := &cachedResult{
		packs:    make([]Pack, 0, len(result.Candidates)),
		gaps:     result.CoverageGaps,
		fallback: result.Fallback,
		refs:     make([]ledger.CandidateRef, 0, len(result.Candidates)),
	}

	for _, c := range result.Candidates {
		entity := snap.Entity(c.EntityID)
		if entity == nil {
			continue
		}
		cached.packs = append(cached.packs, Pack{
			EntityID:    c.EntityID,
			Name:        entity.Name,
			Kind:        entity.Kind.String(),
			Path:        entity.Path,
			Line:        entity.Line,
			Signals:     c.Signals,
			Combined:    c.Combined,
			Explanation: c.Explanation,
			GraphPath:   c.GraphPath,
		})
		cached.refs = append(cached.refs, ledger.CandidateRef{
			EntityID: c.EntityID,
			Combined: c.CombinedNumeric(),
			Shares:   c.Shares,
		})
	}
	if len(cached.packs) > 0 {
		if v, ok := cached.packs[0].Combined.Numeric(); ok {
			cached.confidence = v
		}
	}
	return cached
}

// respond issues a fresh feedback token over the result's candidates and
// finalizes the response. Cached serves get their own token: feedback on a
// cache hit is as valid as feedback on a cold serve.
func (e *Engine) respond(ctx context.Context, epoch uint64, cached *cachedResult, start time.Time, fromCache bool) (*Response, error) {
	var token string
	if len(cached.refs) > 0 {
		issued, err := e.learner.IssueToken(ctx, cached.refs, e.cfg.Feedback.TokenTTL())
		if err != nil {
			e.logger.Warn("feedback token issue failed", "error", err)
		} else {
			token = issued
		}
	}

	return &Response{
		Packs:         cached.packs,
		Confidence:    cached.confidence,
		CoverageGaps:  cached.gaps,
		FeedbackToken: token,
		LatencyMS:     time.Since(start).Milliseconds(),
		Epoch:         epoch,
		Fallback:      cached.fallback,
		Cached:        fromCache,
	}, nil
}

// cacheKey derives the result-cache key. The epoch and weights version are
// part of it, so a re-index or a weight nudge invalidates by construction.
func (e *Engine) cacheKey(epoch uint64, req retriever.Request) string {
	encoded, err := json.Marshal(req)
	if err != nil {
		return fmt.Sprintf("q/%d/unencodable", epoch)
	}
	return fmt.Sprintf("q/%d/%d/%s", epoch, e.weights.Snapshot().Version, encoded)
}
