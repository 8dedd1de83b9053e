package semantic

import (
	"context"
	"runtime"
	"sort"
	"sync"
)

// DefaultThreshold is the cosine similarity gate below which the semantic
// channel contributes nothing.
const DefaultThreshold = 0.35

// parallelThreshold is the store size above which the scan fans out.
const parallelThreshold = 4096

// QueryEmbedder embeds query text. Satisfied by embed.Service.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Match is one semantic channel candidate.
type Match struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
}

// Searcher runs gated nearest-neighbor queries over a vector store.
type Searcher struct {
	store     *Store
	embedder  QueryEmbedder
	threshold float64
}

// NewSearcher creates a semantic searcher. Thresholds at or below zero use
// DefaultThreshold.
func NewSearcher(store *Store, embedder QueryEmbedder, threshold float64) *Searcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Searcher{
		store:     store,
		embedder:  embedder,
		threshold: threshold,
	}
}

// IsReady reports whether the channel can produce candidates.
func (s *Searcher) IsReady() bool {
	return s != nil && s.store != nil && s.embedder != nil && s.store.Count() > 0
}

// Search embeds the intent and returns entities whose vectors clear the
// similarity gate, best first. Embedding or store failures degrade to empty
// results; only context cancellation is returned as an error.
func (s *Searcher) Search(ctx context.Context, intent string, limit int) ([]Match, error) {
	if !s.IsReady() || intent == "" || limit <= 0 {
		return []Match{}, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	query, err := s.embedder.Embed(ctx, intent)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []Match{}, nil
	}

	return s.SearchVector(ctx, query, limit)
}

// SearchVector runs the gated scan for an already-embedded query.
func (s *Searcher) SearchVector(ctx context.Context, query []float32, limit int) ([]Match, error) {
	if !s.IsReady() || limit <= 0 {
		return []Match{}, nil
	}
	if len(query) != s.store.Dimension() {
		return []Match{}, nil
	}

	queryNorm := Magnitude(query)
	if queryNorm == 0 {
		return []Match{}, nil
	}

	count := s.store.Count()
	var matches []Match
	if count >= parallelThreshold {
		matches = s.scanParallel(query, queryNorm, count)
	} else {
		matches = s.scanRange(query, queryNorm, 0, count)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].EntityID < matches[j].EntityID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Threshold returns the active similarity gate.
func (s *Searcher) Threshold() float64 {
	return s.threshold
}

func (s *Searcher) scanRange(query []float32, queryNorm float64, from, to int) []Match {
	var matches []Match
	for slot := from; slot < to; slot++ {
		vec := s.store.Vector(uint32(slot))
		if vec == nil {
			continue
		}
		norm := s.store.Norm(uint32(slot))
		if norm == 0 {
			continue
		}

		sim := float64(Dot(query, vec)) / (queryNorm * norm)
		if sim < s.threshold {
			continue
		}
		if sim > 1 {
			sim = 1
		}
		matches = append(matches, Match{EntityID: s.store.EntityID(uint32(slot)), Score: sim})
	}
	return matches
}

func (s *Searcher) scanParallel(query []float32, queryNorm float64, count int) []Match {
	workers := runtime.GOMAXPROCS(0)
	if workers > count {
		workers = count
	}
	chunk := (count + workers - 1) / workers

	results := make([][]Match, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		from := w * chunk
		to := min(from+chunk, count)
		if from >= to {
			continue
		}

		wg.Add(1)
		go func(w, from, to int) {
			defer wg.Done()
			results[w] = s.scanRange(query, queryNorm, from, to)
		}(w, from, to)
	}
	wg.Wait()

	var merged []Match
	for _, part := range results {
		merged = append(merged, part...)
	}
	return merged
}
