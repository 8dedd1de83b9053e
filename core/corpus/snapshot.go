package corpus

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is the immutable per-epoch corpus view queries read. A new epoch is
// published atomically by the engine; in-flight queries keep the snapshot they
// started with, so ingest and query-time scoring never interleave on the same
// entity.
type Snapshot struct {
	epoch     uint64
	createdAt time.Time

	entities map[string]*Entity
	edges    map[EdgeKey]*Edge

	// Adjacency, sorted by (type, target/source) for deterministic walks.
	out map[string][]*Edge
	in  map[string][]*Edge

	// ids holds all entity ids sorted, for deterministic iteration.
	ids []string

	hasHistory bool
}

// HasHistory reports whether any entity carries git-history metadata. When
// false, history-derived signals are absent for the whole epoch.
func (s *Snapshot) HasHistory() bool {
	return s.hasHistory
}

// Epoch returns the snapshot's indexing epoch.
func (s *Snapshot) Epoch() uint64 {
	return s.epoch
}

// CreatedAt returns when the snapshot was built.
func (s *Snapshot) CreatedAt() time.Time {
	return s.createdAt
}

// Entity returns the entity with the given id, or nil.
func (s *Snapshot) Entity(id string) *Entity {
	return s.entities[id]
}

// HasEntity reports whether the id exists in this snapshot.
func (s *Snapshot) HasEntity(id string) bool {
	_, ok := s.entities[id]
	return ok
}

// EntityIDs returns all entity ids in sorted order.
func (s *Snapshot) EntityIDs() []string {
	return s.ids
}

// EntityCount returns the number of entities.
func (s *Snapshot) EntityCount() int {
	return len(s.entities)
}

// EdgeCount returns the number of edges.
func (s *Snapshot) EdgeCount() int {
	return len(s.edges)
}

// Edge returns the edge with the given key, or nil.
func (s *Snapshot) Edge(key EdgeKey) *Edge {
	return s.edges[key]
}

// OutEdges returns the edges leaving the entity. The returned slice is shared;
// callers must not mutate it.
func (s *Snapshot) OutEdges(id string) []*Edge {
	return s.out[id]
}

// InEdges returns the edges arriving at the entity. The returned slice is
// shared; callers must not mutate it.
func (s *Snapshot) InEdges(id string) []*Edge {
	return s.in[id]
}

// ForEachEntity visits entities in sorted id order.
func (s *Snapshot) ForEachEntity(fn func(*Entity)) {
	for _, id := range s.ids {
		fn(s.entities[id])
	}
}

// DistinctEdgeConfidences returns the number of distinct numeric edge
// confidence values in the snapshot. A real mixed-provenance corpus must
// exhibit at least five; a constant value indicates a broken ingest table.
func (s *Snapshot) DistinctEdgeConfidences() int {
	seen := make(map[float64]struct{}, 8)
	for _, e := range s.edges {
		seen[e.ConfidenceNumeric()] = struct{}{}
	}
	return len(seen)
}

// Stats summarizes the snapshot for logging and the stats surface.
type Stats struct {
	Epoch                   uint64         `json:"epoch"`
	Entities                int            `json:"entities"`
	Edges                   int            `json:"edges"`
	EntitiesByKind          map[string]int `json:"entities_by_kind"`
	EdgesByType             map[string]int `json:"edges_by_type"`
	DistinctEdgeConfidences int            `json:"distinct_edge_confidences"`
	CreatedAt               time.Time      `json:"created_at"`
}

// Stats computes summary statistics.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Epoch:                   s.epoch,
		Entities:                len(s.entities),
		Edges:                   len(s.edges),
		EntitiesByKind:          make(map[string]int, 4),
		EdgesByType:             make(map[string]int, 5),
		DistinctEdgeConfidences: s.DistinctEdgeConfidences(),
		CreatedAt:               s.createdAt,
	}
	for _, e := range s.entities {
		st.EntitiesByKind[e.Kind.String()]++
	}
	for _, e := range s.edges {
		st.EdgesByType[e.Type.String()]++
	}
	return st
}

// =============================================================================
// Builder
// =============================================================================

// Builder accumulates entities and edges and produces an immutable Snapshot.
// Not safe for concurrent use; ingest owns it exclusively until Build.
type Builder struct {
	epoch    uint64
	table    ConfidenceTable
	entities map[string]*Entity
	edges    map[EdgeKey]*Edge
}

// NewBuilder creates a Builder for the given epoch using the default
// confidence table.
func NewBuilder(epoch uint64) *Builder {
	return NewBuilderWithTable(epoch, DefaultConfidenceTable())
}

// NewBuilderWithTable creates a Builder with an explicit confidence table.
func NewBuilderWithTable(epoch uint64, table ConfidenceTable) *Builder {
	return &Builder{
		epoch:    epoch,
		table:    table,
		entities: make(map[string]*Entity),
		edges:    make(map[EdgeKey]*Edge),
	}
}

// AddEntity validates and stores an entity, replacing any previous entity
// with the same id.
func (b *Builder) AddEntity(e *Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	b.entities[e.ID] = e
	return nil
}

// AddEdge validates an edge, computes its confidence from provenance when the
// caller did not set one, and stores it keyed by (source, target, type),
// replacing any previous edge with the same key.
func (b *Builder) AddEdge(e *Edge) error {
	if e == nil {
		return fmt.Errorf("edge is nil")
	}
	if e.Confidence.Kind == "" {
		if err := e.Provenance.Validate(); err != nil {
			return fmt.Errorf("edge %s: %w", e.Key(), err)
		}
		e.Confidence = ComputeEdgeConfidence(e.Provenance, b.table)
	}
	if e.ComputedAt.IsZero() {
		e.ComputedAt = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return err
	}
	b.edges[e.Key()] = e
	return nil
}

// Entity returns a previously added entity for in-place enrichment before
// Build (history ingest sets churn stats this way).
func (b *Builder) Entity(id string) *Entity {
	return b.entities[id]
}

// EntityCount returns the number of staged entities.
func (b *Builder) EntityCount() int {
	return len(b.entities)
}

// Entities returns the staged entities in sorted id order, for pre-Build
// enrichment passes (history ingest, embedding).
func (b *Builder) Entities() []*Entity {
	ids := make([]string, 0, len(b.entities))
	for id := range b.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entities := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, b.entities[id])
	}
	return entities
}

// Build verifies referential integrity and produces the Snapshot. Edges whose
// endpoints are missing from the entity set are rejected here rather than at
// query time.
func (b *Builder) Build() (*Snapshot, error) {
	for key, e := range b.edges {
		if _, ok := b.entities[e.SourceID]; !ok {
			return nil, fmt.Errorf("edge %s: unknown source entity", key)
		}
		if _, ok := b.entities[e.TargetID]; !ok {
			return nil, fmt.Errorf("edge %s: unknown target entity", key)
		}
	}

	snap := &Snapshot{
		epoch:     b.epoch,
		createdAt: time.Now().UTC(),
		entities:  b.entities,
		edges:     b.edges,
		out:       make(map[string][]*Edge, len(b.entities)),
		in:        make(map[string][]*Edge, len(b.entities)),
		ids:       make([]string, 0, len(b.entities)),
	}
	for id, e := range b.entities {
		snap.ids = append(snap.ids, id)
		if e.Churn.HasHistory() {
			snap.hasHistory = true
		}
	}
	sort.Strings(snap.ids)

	for _, e := range b.edges {
		snap.out[e.SourceID] = append(snap.out[e.SourceID], e)
		snap.in[e.TargetID] = append(snap.in[e.TargetID], e)
	}
	for _, edges := range snap.out {
		sortEdges(edges, func(e *Edge) string { return e.TargetID })
	}
	for _, edges := range snap.in {
		sortEdges(edges, func(e *Edge) string { return e.SourceID })
	}
	return snap, nil
}

// sortEdges orders edges by type then far endpoint for deterministic
// traversal.
func sortEdges(edges []*Edge, far func(*Edge) string) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Type != edges[j].Type {
			return edges[i].Type < edges[j].Type
		}
		return far(edges[i]) < far(edges[j])
	})
}
