// Package graph implements the code-graph side of retrieval: BFS expansion
// from seed entities, confidence-weighted authority scoring, and multi-hop
// path confidence. All functions operate on an immutable corpus snapshot and
// are safe for concurrent use.
package graph

import (
	"sort"

	"github.com/adalundhe/loupe/core/corpus"
)

// =============================================================================
// Direction
// =============================================================================

// Direction selects which edges a traversal follows.
type Direction string

const (
	// DirectionOutgoing follows edges from source to target (callees,
	// imports, members).
	DirectionOutgoing Direction = "outgoing"

	// DirectionIncoming follows edges from target to source (callers,
	// importers, containers).
	DirectionIncoming Direction = "incoming"

	// DirectionBoth follows edges either way.
	DirectionBoth Direction = "both"
)

// ValidDirections returns all valid Direction values.
func ValidDirections() []Direction {
	return []Direction{DirectionOutgoing, DirectionIncoming, DirectionBoth}
}

// IsValid returns true if the direction is a recognized value.
func (d Direction) IsValid() bool {
	switch d {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return true
	default:
		return false
	}
}

// String returns the string representation of the direction.
func (d Direction) String() string {
	return string(d)
}

// ParseDirection parses a string into a Direction.
func ParseDirection(s string) (Direction, bool) {
	d := Direction(s)
	return d, d.IsValid()
}

// =============================================================================
// Expansion
// =============================================================================

// DefaultMaxHops bounds expansion when the caller does not.
const DefaultMaxHops = 2

// ExpandOptions configures a BFS expansion.
type ExpandOptions struct {
	// MaxHops bounds the expansion depth; zero or negative uses
	// DefaultMaxHops.
	MaxHops int

	// Direction selects the edges followed; the zero value means both.
	Direction Direction

	// EdgeTypes restricts the traversal to the listed types; empty means
	// all types.
	EdgeTypes []corpus.EdgeType

	// Limit caps the number of expansions returned; zero means unbounded.
	Limit int
}

// Expansion is one entity reached by graph expansion from a seed.
type Expansion struct {
	// EntityID is the reached entity.
	EntityID string `json:"entity_id"`

	// Hops is the shortest distance from any seed.
	Hops int `json:"hops"`

	// Score is the channel score: the confidence of the edge that reached
	// the entity divided by the hop index.
	Score float64 `json:"score"`

	// Path traces seed to entity, inclusive.
	Path []string `json:"path"`
}

// visit tracks BFS discovery state for one entity.
type visit struct {
	hops  int
	score float64
	path  []string
}

// Expand walks the snapshot graph breadth-first from the seeds, up to MaxHops,
// and returns the reached entities best-score first. Seeds themselves are not
// returned; they are already candidates. Per the channel contract, an entity
// reached at hop h through an edge with confidence c contributes score c/h;
// when several same-hop edges reach an entity the strongest one wins.
func Expand(snap *corpus.Snapshot, seeds []string, opts ExpandOptions) []Expansion {
	if snap == nil || len(seeds) == 0 {
		return nil
	}
	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	direction := opts.Direction
	if !direction.IsValid() {
		direction = DirectionBoth
	}
	typeFilter := edgeTypeSet(opts.EdgeTypes)

	visited := make(map[string]*visit, len(seeds)*4)
	frontier := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if !snap.HasEntity(seed) {
			continue
		}
		if _, seen := visited[seed]; seen {
			continue
		}
		visited[seed] = &visit{hops: 0, path: []string{seed}}
		frontier = append(frontier, seed)
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			from := visited[id]
			for _, step := range neighbors(snap, id, direction, typeFilter) {
				conf := step.edge.ConfidenceNumeric()
				score := conf / float64(hop)

				existing, seen := visited[step.id]
				if !seen {
					path := append(append([]string(nil), from.path...), step.id)
					visited[step.id] = &visit{hops: hop, score: score, path: path}
					next = append(next, step.id)
					continue
				}
				// Same-hop rediscovery through a stronger edge wins.
				if existing.hops == hop && score > existing.score {
					existing.score = score
					existing.path = append(append([]string(nil), from.path...), step.id)
				}
			}
		}
		frontier = next
	}

	expansions := make([]Expansion, 0, len(visited))
	for id, v := range visited {
		if v.hops == 0 {
			continue
		}
		expansions = append(expansions, Expansion{
			EntityID: id,
			Hops:     v.hops,
			Score:    v.score,
			Path:     v.path,
		})
	}

	sort.Slice(expansions, func(i, j int) bool {
		if expansions[i].Score != expansions[j].Score {
			return expansions[i].Score > expansions[j].Score
		}
		return expansions[i].EntityID < expansions[j].EntityID
	})
	if opts.Limit > 0 && len(expansions) > opts.Limit {
		expansions = expansions[:opts.Limit]
	}
	return expansions
}

// Distances returns the hop count from the nearest seed for every entity
// within MaxHops, seeds included at distance zero.
func Distances(snap *corpus.Snapshot, seeds []string, opts ExpandOptions) map[string]int {
	distances := make(map[string]int, len(seeds))
	for _, seed := range seeds {
		if snap != nil && snap.HasEntity(seed) {
			distances[seed] = 0
		}
	}
	for _, exp := range Expand(snap, seeds, opts) {
		distances[exp.EntityID] = exp.Hops
	}
	return distances
}

// ImportDistances returns hop counts following only import edges, either
// direction, for the dependency-distance signal.
func ImportDistances(snap *corpus.Snapshot, seeds []string, maxHops int) map[string]int {
	return Distances(snap, seeds, ExpandOptions{
		MaxHops:   maxHops,
		Direction: DirectionBoth,
		EdgeTypes: []corpus.EdgeType{corpus.EdgeImports},
	})
}

// =============================================================================
// Neighbor iteration
// =============================================================================

// step is one traversable edge endpoint.
type step struct {
	id   string
	edge *corpus.Edge
}

// neighbors lists the entities one edge away from id under the direction and
// type filter, in the snapshot's deterministic adjacency order.
func neighbors(snap *corpus.Snapshot, id string, direction Direction, types map[corpus.EdgeType]struct{}) []step {
	var steps []step
	if direction == DirectionOutgoing || direction == DirectionBoth {
		for _, e := range snap.OutEdges(id) {
			if allowed(e.Type, types) {
				steps = append(steps, step{id: e.TargetID, edge: e})
			}
		}
	}
	if direction == DirectionIncoming || direction == DirectionBoth {
		for _, e := range snap.InEdges(id) {
			if allowed(e.Type, types) {
				steps = append(steps, step{id: e.SourceID, edge: e})
			}
		}
	}
	return steps
}

func edgeTypeSet(types []corpus.EdgeType) map[corpus.EdgeType]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[corpus.EdgeType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func allowed(t corpus.EdgeType, set map[corpus.EdgeType]struct{}) bool {
	if set == nil {
		return true
	}
	_, ok := set[t]
	return ok
}
