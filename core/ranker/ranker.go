// Package ranker re-orders scored candidates using graph structure: the
// precomputed authority ranking, a one-shot boost for direct neighbors of the
// query's seed matches, and path-confidence annotations for graph-expanded
// candidates. The ranker adjusts ORDER, never confidence: the fused
// ConfidenceValue a candidate carries is left untouched.
package ranker

import (
	"sort"

	"github.com/adalundhe/loupe/core/corpus"
	"github.com/adalundhe/loupe/core/graph"
	"github.com/adalundhe/loupe/core/retriever"
)

// Defaults.
const (
	// DefaultNeighborBoost multiplies the rank score of direct callers and
	// callees of a seed. Applied once per candidate, never recursively.
	DefaultNeighborBoost = 1.25

	// DefaultAuthorityWeight scales how much corpus-wide authority bends the
	// per-query ordering.
	DefaultAuthorityWeight = 0.15
)

// Config tunes the ranker. Zero values fall back to the defaults.
type Config struct {
	// NeighborBoost is the one-hop caller/callee multiplier.
	NeighborBoost float64

	// AuthorityWeight scales the authority contribution into the rank score.
	AuthorityWeight float64

	// PathPenaltyBase is the per-link decay used for path-confidence
	// annotations.
	PathPenaltyBase float64
}

func (c Config) withDefaults() Config {
	if c.NeighborBoost <= 0 {
		c.NeighborBoost = DefaultNeighborBoost
	}
	if c.AuthorityWeight <= 0 {
		c.AuthorityWeight = DefaultAuthorityWeight
	}
	if c.PathPenaltyBase <= 0 || c.PathPenaltyBase > 1 {
		c.PathPenaltyBase = graph.DefaultPathPenaltyBase
	}
	return c
}

// Ranker applies graph-informed re-ordering to a retrieval result.
type Ranker struct {
	config Config
}

// New creates a Ranker.
func New(cfg Config) *Ranker {
	return &Ranker{config: cfg.withDefaults()}
}

// Rank re-orders the result's candidates in place: rank score is the fused
// numeric confidence scaled by authority and by the neighbor boost when the
// candidate is a direct caller or callee of a seed. Exact matches keep their
// contract position above everything else; ties break on entity id. Fallback
// results pass through untouched, their order is the authority order already.
func (r *Ranker) Rank(result *retriever.Result, snap *corpus.Snapshot, auth *graph.Authority) {
	if result == nil || len(result.Candidates) == 0 || result.Fallback {
		return
	}

	neighbors := seedNeighbors(snap, result.SeedIDs)
	scores := make(map[string]float64, len(result.Candidates))

	for _, c := range result.Candidates {
		score := c.CombinedNumeric()

		if auth != nil {
			if a := auth.Score(c.EntityID); a > 0 {
				score *= 1 + r.config.AuthorityWeight*a
				c.Explain("authority %.3f (epoch %d)", a, auth.Epoch())
			}
		}

		if _, ok := neighbors[c.EntityID]; ok {
			score *= r.config.NeighborBoost
			c.Explain("direct neighbor of a matched seed (boost %.2fx)", r.config.NeighborBoost)
		}

		if len(c.GraphPath) > 1 {
			pc, err := graph.PathConfidence(snap, c.GraphPath, r.config.PathPenaltyBase)
			if err == nil {
				c.Explain("path confidence %.3f over %d hop(s)", pc, len(c.GraphPath)-1)
			}
		}

		scores[c.EntityID] = score
	}

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.Exact != b.Exact {
			return a.Exact
		}
		if scores[a.EntityID] != scores[b.EntityID] {
			return scores[a.EntityID] > scores[b.EntityID]
		}
		return a.EntityID < b.EntityID
	})
}

// seedNeighbors collects the entities one call edge away from any seed, in
// either direction. Only call edges qualify; structural containment and
// imports do not make an entity a "caller or callee".
func seedNeighbors(snap *corpus.Snapshot, seeds []string) map[string]struct{} {
	neighbors := make(map[string]struct{})
	if snap == nil {
		return neighbors
	}
	seedSet := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		seedSet[s] = struct{}{}
	}
	for _, seed := range seeds {
		for _, e := range snap.OutEdges(seed) {
			if e.Type != corpus.EdgeCalls {
				continue
			}
			if _, isSeed := seedSet[e.TargetID]; !isSeed {
				neighbors[e.TargetID] = struct{}{}
			}
		}
		for _, e := range snap.InEdges(seed) {
			if e.Type != corpus.EdgeCalls {
				continue
			}
			if _, isSeed := seedSet[e.SourceID]; !isSeed {
				neighbors[e.SourceID] = struct{}{}
			}
		}
	}
	return neighbors
}
