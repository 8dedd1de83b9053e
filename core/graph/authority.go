package graph

import (
	"math"
	"sort"
	"time"

	"github.com/adalundhe/loupe/core/corpus"
)

// Power-iteration parameters. Authority is recomputed on a schedule by the
// engine's background task, never inline with a query, so the iteration cap
// trades precision for a bounded recompute cost.
const (
	DefaultDamping    = 0.85
	DefaultMaxIter    = 100
	convergenceEps    = 1e-6
	minAuthorityNodes = 1
)

// Authority holds per-entity authority scores for one snapshot epoch,
// normalized so the strongest entity scores 1. Immutable after computation.
type Authority struct {
	epoch      uint64
	computedAt time.Time
	scores     map[string]float64
}

// ComputeAuthority runs power-method PageRank over the confidence-weighted
// incoming-edge matrix of the snapshot. Each edge contributes rank mass
// proportional to its confidence, so a heavily-called entity reached through
// verified edges outranks one reached through LLM-fallback guesses.
func ComputeAuthority(snap *corpus.Snapshot, damping float64, maxIter int) *Authority {
	if damping <= 0 || damping >= 1 {
		damping = DefaultDamping
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}

	auth := &Authority{computedAt: time.Now().UTC()}
	if snap == nil || snap.EntityCount() < minAuthorityNodes {
		auth.scores = map[string]float64{}
		return auth
	}
	auth.epoch = snap.Epoch()

	ids := snap.EntityIDs()
	n := len(ids)

	// Confidence-weighted out-degree per source.
	outWeight := make(map[string]float64, n)
	for _, id := range ids {
		for _, e := range snap.OutEdges(id) {
			outWeight[id] += e.ConfidenceNumeric()
		}
	}

	ranks := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for _, id := range ids {
		ranks[id] = initial
	}
	teleport := (1.0 - damping) / float64(n)

	for iter := 0; iter < maxIter; iter++ {
		next := make(map[string]float64, n)
		for _, id := range ids {
			next[id] = teleport
		}
		for _, src := range ids {
			total := outWeight[src]
			if total <= 0 {
				continue
			}
			base := damping * ranks[src] / total
			for _, e := range snap.OutEdges(src) {
				next[e.TargetID] += base * e.ConfidenceNumeric()
			}
		}
		if converged(ranks, next) {
			ranks = next
			break
		}
		ranks = next
	}

	// Normalize to [0,1] by the maximum so Score is directly usable as a
	// boost input.
	var maxRank float64
	for _, r := range ranks {
		if r > maxRank {
			maxRank = r
		}
	}
	if maxRank > 0 {
		for id := range ranks {
			ranks[id] /= maxRank
		}
	}
	auth.scores = ranks
	return auth
}

// Epoch returns the snapshot epoch the scores were computed for.
func (a *Authority) Epoch() uint64 {
	return a.epoch
}

// ComputedAt returns when the scores were computed.
func (a *Authority) ComputedAt() time.Time {
	return a.computedAt
}

// Score returns the normalized authority of the entity, zero when unknown.
func (a *Authority) Score(id string) float64 {
	if a == nil {
		return 0
	}
	return a.scores[id]
}

// Top returns the n highest-authority entity ids, score descending with id as
// the deterministic tiebreak. Used for the degraded "general" fallback set.
func (a *Authority) Top(n int) []string {
	if a == nil || n <= 0 {
		return nil
	}
	ids := make([]string, 0, len(a.scores))
	for id := range a.scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if a.scores[ids[i]] != a.scores[ids[j]] {
			return a.scores[ids[i]] > a.scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// Len returns the number of scored entities.
func (a *Authority) Len() int {
	if a == nil {
		return 0
	}
	return len(a.scores)
}

func converged(old, next map[string]float64) bool {
	for id, v := range next {
		if math.Abs(v-old[id]) > convergenceEps {
			return false
		}
	}
	return true
}
