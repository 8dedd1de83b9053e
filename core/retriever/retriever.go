package retriever

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adalundhe/loupe/core/confidence"
	"github.com/adalundhe/loupe/core/corpus"
	"github.com/adalundhe/loupe/core/graph"
	"github.com/adalundhe/loupe/core/lexical"
	"github.com/adalundhe/loupe/core/scorer"
	"github.com/adalundhe/loupe/core/semantic"
	"github.com/adalundhe/loupe/core/signal"
	"github.com/adalundhe/loupe/core/weights"
)

// Channel names used in timeout coverage gaps.
const (
	channelLexical  = "lexical"
	channelSemantic = "semantic"
	channelGraph    = "graph"
)

// Config tunes the retriever. Zero values fall back to the listed defaults.
type Config struct {
	// MaxHops bounds graph expansion at depth L1/L2; L3 adds one.
	MaxHops int

	// LexicalK and SemanticK are per-channel candidate counts at depth L1.
	LexicalK  int
	SemanticK int

	// MaxResults caps candidates when the request does not.
	MaxResults int

	// FallbackCeiling caps combined confidence on the degraded general
	// result set.
	FallbackCeiling float64

	// ChannelTimeout bounds each channel; a channel that exceeds it
	// contributes no candidates instead of blocking the request.
	ChannelTimeout time.Duration
}

// DefaultConfig returns the standard retrieval tuning.
func DefaultConfig() Config {
	return Config{
		MaxHops:         2,
		LexicalK:        20,
		SemanticK:       20,
		MaxResults:      10,
		FallbackCeiling: 0.40,
		ChannelTimeout:  2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxHops <= 0 {
		c.MaxHops = d.MaxHops
	}
	if c.LexicalK <= 0 {
		c.LexicalK = d.LexicalK
	}
	if c.SemanticK <= 0 {
		c.SemanticK = d.SemanticK
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.FallbackCeiling <= 0 || c.FallbackCeiling > 1 {
		c.FallbackCeiling = d.FallbackCeiling
	}
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = d.ChannelTimeout
	}
	return c
}

// LexicalChannel is the lexical searcher contract the retriever consumes.
type LexicalChannel interface {
	IsReady() bool
	Search(ctx context.Context, intent string, limit int) ([]lexical.Match, error)
}

// SemanticChannel is the semantic searcher contract the retriever consumes.
type SemanticChannel interface {
	IsReady() bool
	Search(ctx context.Context, intent string, limit int) ([]semantic.Match, error)
}

// Retriever owns the three channels and the scoring pipeline for one corpus.
// Safe for concurrent use; all per-query state is local to Retrieve.
type Retriever struct {
	lexical  LexicalChannel
	semantic SemanticChannel
	registry *signal.Registry
	weights  *weights.LearnedWeights
	config   Config
	logger   *slog.Logger
}

// New creates a Retriever. A nil registry uses the default signal set; a nil
// logger uses the process default.
func New(lex LexicalChannel, sem SemanticChannel, registry *signal.Registry, lw *weights.LearnedWeights, cfg Config, logger *slog.Logger) *Retriever {
	if registry == nil {
		registry = signal.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		lexical:  lex,
		semantic: sem,
		registry: registry,
		weights:  lw,
		config:   cfg.withDefaults(),
		logger:   logger,
	}
}

// channelOutcome carries one channel's results across the join.
type channelOutcome struct {
	lexical  []lexical.Match
	semantic []semantic.Match
	timedOut bool
}

// Retrieve runs the requested channels against the snapshot and returns the
// scored, ranked candidate union. The request deadline degrades rather than
// fails: timed-out channels contribute nothing and are reported as coverage
// gaps, and an all-empty channel set yields the capped-confidence fallback.
func (r *Retriever) Retrieve(ctx context.Context, snap *corpus.Snapshot, auth *graph.Authority, req Request) (*Result, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result := &Result{}
	if snap == nil || snap.EntityCount() == 0 {
		result.Fallback = true
		result.AddGap(GapNoSemanticMatch)
		return result, nil
	}

	scale := req.Depth.scale()
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = r.config.MaxResults
	}

	// Lexical and semantic generate independently and join; graph expands
	// from their union, inside whatever budget remains.
	lexOut, semOut := r.runChannels(ctx, req, scale)
	if lexOut.timedOut {
		result.TimedOut = append(result.TimedOut, channelLexical)
		result.AddGap(ChannelTimeoutGap(channelLexical))
	}
	if semOut.timedOut {
		result.TimedOut = append(result.TimedOut, channelSemantic)
		result.AddGap(ChannelTimeoutGap(channelSemantic))
	}

	var lexicalScores map[string]float64
	exact := make(map[string]bool)
	if req.Mode.runsLexical() && !lexOut.timedOut {
		lexicalScores = make(map[string]float64, len(lexOut.lexical))
		for _, m := range lexOut.lexical {
			lexicalScores[m.EntityID] = m.Score
			if m.Exact {
				exact[m.EntityID] = true
			}
		}
	}
	var semanticScores map[string]float64
	if req.Mode.runsSemantic() && !semOut.timedOut {
		semanticScores = make(map[string]float64, len(semOut.semantic))
		for _, m := range semOut.semantic {
			semanticScores[m.EntityID] = m.Score
		}
	}

	seeds := seedUnion(lexicalScores, semanticScores)
	result.SeedIDs = seeds

	var (
		expansions  []graph.Expansion
		graphScores map[string]float64
		graphPaths  map[string][]string
	)
	if req.Mode.runsGraph() && len(seeds) > 0 {
		if ctx.Err() != nil {
			result.TimedOut = append(result.TimedOut, channelGraph)
			result.AddGap(ChannelTimeoutGap(channelGraph))
		} else {
			expansions = graph.Expand(snap, seeds, graph.ExpandOptions{
				MaxHops:   r.config.MaxHops + req.Depth.extraHops(),
				Direction: graph.DirectionBoth,
			})
			graphScores = make(map[string]float64, len(expansions))
			graphPaths = make(map[string][]string, len(expansions))
			for _, exp := range expansions {
				graphScores[exp.EntityID] = exp.Score
				graphPaths[exp.EntityID] = exp.Path
			}
		}
	}

	filters := req.Filters.compile()
	ids := candidateUnion(lexicalScores, semanticScores, graphScores)
	qc := r.buildSignalContext(snap, req, seeds, lexicalScores, semanticScores)

	snapWeights := r.currentWeights()
	candidates := make([]*Candidate, 0, len(ids))
	for _, id := range ids {
		entity := snap.Entity(id)
		if entity == nil {
			continue
		}
		if filters.domain != "" && !entity.HasDomainTag(filters.domain) {
			continue
		}
		if !filters.matchPath(entity.Path) {
			continue
		}

		raw := r.registry.ComputeAll(entity, qc)
		scored := scorer.ScoreDetailed(raw, snapWeights)

		c := &Candidate{
			EntityID: id,
			Signals:  raw,
			Lexical:  lexicalScores[id],
			Semantic: semanticScores[id],
			Graph:    graphScores[id],
			Combined: scored.Confidence,
			Exact:    exact[id],
		}
		if path, ok := graphPaths[id]; ok {
			c.GraphPath = path
		}
		c.Shares = make(map[string]float64, len(scored.Explanations))
		for _, ex := range scored.Explanations {
			c.Shares[ex.Signal] = ex.Share
			c.Explain("%s: %.2f (weight share %.2f)", ex.Signal, ex.Value, ex.Share)
		}
		if c.Exact {
			c.Explain("exact identifier match on %q", entity.Name)
		}
		if len(c.GraphPath) > 1 {
			c.Explain("reached by graph expansion through %d hop(s)", len(c.GraphPath)-1)
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return r.fallback(result, snap, auth, filters, maxResults), nil
	}

	sortCandidates(candidates)
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	result.Candidates = candidates

	if !snap.HasHistory() {
		result.AddGap(GapHistoryUnavailable)
	}
	return result, nil
}

// runChannels fans the lexical and semantic generators out as concurrent
// tasks bounded by the per-channel timeout, and joins on the slower one.
func (r *Retriever) runChannels(ctx context.Context, req Request, scale int) (channelOutcome, channelOutcome) {
	var lexOut, semOut channelOutcome
	var wg sync.WaitGroup

	if req.Mode.runsLexical() && r.lexical != nil && r.lexical.IsReady() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			channelCtx, cancel := context.WithTimeout(ctx, r.config.ChannelTimeout)
			defer cancel()

			matches, err := r.lexical.Search(channelCtx, req.Intent, r.config.LexicalK*scale)
			if err != nil && channelCtx.Err() != nil {
				lexOut.timedOut = true
				return
			}
			lexOut.lexical = matches
		}()
	}

	if req.Mode.runsSemantic() && r.semantic != nil && r.semantic.IsReady() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			channelCtx, cancel := context.WithTimeout(ctx, r.config.ChannelTimeout)
			defer cancel()

			matches, err := r.semantic.Search(channelCtx, req.Intent, r.config.SemanticK*scale)
			if err != nil && channelCtx.Err() != nil {
				semOut.timedOut = true
				return
			}
			semOut.semantic = matches
		}()
	}

	wg.Wait()
	return lexOut, semOut
}

// buildSignalContext assembles the read-only per-query context the signal
// computers consume.
func (r *Retriever) buildSignalContext(snap *corpus.Snapshot, req Request, seeds []string, lexicalScores, semanticScores map[string]float64) *signal.Context {
	qc := &signal.Context{
		Intent:         req.Intent,
		Terms:          lexical.TokenizeQuery(req.Intent),
		Identifiers:    lexical.QueryIdentifiers(req.Intent),
		OwnerHint:      req.OwnerHint,
		SeedIDs:        seeds,
		Snapshot:       snap,
		HasHistory:     snap.HasHistory(),
		LexicalScores:  lexicalScores,
		SemanticScores: semanticScores,
	}
	if req.Filters.Domain != "" {
		qc.Domains = []string{req.Filters.Domain}
	}
	for _, seed := range seeds {
		if e := snap.Entity(seed); e != nil {
			qc.SeedPaths = append(qc.SeedPaths, e.Path)
		}
	}
	if len(seeds) > 0 {
		maxHops := r.config.MaxHops + req.Depth.extraHops()
		qc.GraphDistance = graph.Distances(snap, seeds, graph.ExpandOptions{
			MaxHops:   maxHops,
			Direction: graph.DirectionBoth,
		})
		qc.ImportDistance = graph.ImportDistances(snap, seeds, maxHops)
	}
	return qc
}

// fallback produces the degraded general result set: the highest-authority
// entities under the filters, every one carrying a bounded confidence whose
// ceiling is the configured cap. Reporting a fallback at genuine-match
// confidence is a correctness bug, so the cap is enforced here at the source.
func (r *Retriever) fallback(result *Result, snap *corpus.Snapshot, auth *graph.Authority, filters compiledFilters, maxResults int) *Result {
	result.Fallback = true
	result.AddGap(GapNoSemanticMatch)

	var ids []string
	if auth != nil && auth.Len() > 0 {
		ids = auth.Top(snap.EntityCount())
	} else {
		ids = snap.EntityIDs()
	}

	for _, id := range ids {
		if len(result.Candidates) >= maxResults {
			break
		}
		entity := snap.Entity(id)
		if entity == nil {
			continue
		}
		if filters.domain != "" && !entity.HasDomainTag(filters.domain) {
			continue
		}
		if !filters.matchPath(entity.Path) {
			continue
		}
		c := &Candidate{
			EntityID: id,
			Signals:  map[string]float64{},
			Combined: confidence.Bounded(0, r.config.FallbackCeiling, "degraded_fallback"),
		}
		c.Explain("no channel matched the intent; returned from the general authority set")
		result.Candidates = append(result.Candidates, c)
	}
	return result
}

// currentWeights resolves the learned weights snapshot, nil when the
// retriever was built without one.
func (r *Retriever) currentWeights() *weights.Snapshot {
	if r.weights == nil {
		return nil
	}
	return r.weights.Snapshot()
}

func seedUnion(lexicalScores, semanticScores map[string]float64) []string {
	seen := make(map[string]struct{}, len(lexicalScores)+len(semanticScores))
	for id := range lexicalScores {
		seen[id] = struct{}{}
	}
	for id := range semanticScores {
		seen[id] = struct{}{}
	}
	seeds := make([]string, 0, len(seen))
	for id := range seen {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)
	return seeds
}

func candidateUnion(maps ...map[string]float64) []string {
	seen := make(map[string]struct{})
	for _, m := range maps {
		for id := range m {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
