package lexical

import (
	"context"
	"sort"

	"github.com/blevesearch/bleve/v2"
)

// Scoring tiers. Exact full-identifier matches always score above partial
// matches: the boost biases Bleve's ranking, and the tier assignment after the
// stored-name check makes the ordering a guarantee rather than a tendency.
const (
	exactMatchBoost = 10.0
	exactTierFloor  = 0.75
	partialTierCeil = 0.70
)

// DefaultSearchLimit caps result counts when the caller does not specify one.
const DefaultSearchLimit = 10

// Match is a single lexical-channel result.
type Match struct {
	// EntityID is the matched entity.
	EntityID string `json:"entity_id"`

	// Score is the normalized channel score in [0,1].
	Score float64 `json:"score"`

	// Exact reports whether the query contained the entity's full identifier.
	Exact bool `json:"exact"`
}

// Searcher executes lexical queries against an entity index. It degrades
// gracefully: search failures yield empty results, never errors, so the other
// retrieval channels can still serve the query.
type Searcher struct {
	index *Index
}

// NewSearcher creates a Searcher over the given index.
func NewSearcher(index *Index) *Searcher {
	return &Searcher{index: index}
}

// IsReady returns true if the searcher has a usable index.
func (s *Searcher) IsReady() bool {
	return s.index != nil
}

// Search runs the intent against the index and returns up to limit matches,
// ordered by score descending with entity ID as the deterministic tiebreak.
// Respects context cancellation; other failures return empty results.
func (s *Searcher) Search(ctx context.Context, intent string, limit int) ([]Match, error) {
	if s.index == nil || intent == "" {
		return []Match{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	select {
	case <-ctx.Done():
		return []Match{}, ctx.Err()
	default:
	}

	req := s.buildRequest(intent, limit)
	result, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		// Graceful degradation: the lexical channel goes silent, it does not
		// fail the query.
		return []Match{}, nil
	}

	return s.rankHits(intent, result, limit), nil
}

// buildRequest constructs the Bleve request: boosted exact-name term queries
// for each identifier in the intent, plus analyzed partial matches over the
// symbol and doc fields.
func (s *Searcher) buildRequest(intent string, limit int) *bleve.SearchRequest {
	disjunction := bleve.NewDisjunctionQuery()

	for _, ident := range QueryIdentifiers(intent) {
		exact := bleve.NewTermQuery(ident)
		exact.SetField("name")
		exact.SetBoost(exactMatchBoost)
		disjunction.AddQuery(exact)
	}

	symbols := bleve.NewMatchQuery(intent)
	symbols.SetField("symbols")
	disjunction.AddQuery(symbols)

	doc := bleve.NewMatchQuery(intent)
	doc.SetField("doc")
	disjunction.AddQuery(doc)

	// Fetch headroom beyond the limit: tier assignment can promote exact
	// matches past higher-raw-score partials.
	req := bleve.NewSearchRequestOptions(disjunction, limit*3, 0, false)
	req.Fields = []string{"name"}
	return req
}

// rankHits converts Bleve hits into tiered, normalized matches.
func (s *Searcher) rankHits(intent string, result *bleve.SearchResult, limit int) []Match {
	if result == nil || len(result.Hits) == 0 {
		return []Match{}
	}

	exactNames := make(map[string]struct{})
	for _, ident := range QueryIdentifiers(intent) {
		exactNames[ident] = struct{}{}
	}

	var maxRaw float64
	for _, hit := range result.Hits {
		if hit.Score > maxRaw {
			maxRaw = hit.Score
		}
	}
	if maxRaw <= 0 {
		return []Match{}
	}

	matches := make([]Match, 0, len(result.Hits))
	for _, hit := range result.Hits {
		name, _ := hit.Fields["name"].(string)
		_, exact := exactNames[name]

		rel := hit.Score / maxRaw
		score := partialTierCeil * rel
		if exact {
			score = exactTierFloor + (1-exactTierFloor)*rel
		}

		matches = append(matches, Match{EntityID: hit.ID, Score: score, Exact: exact})
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
	return matches
}
