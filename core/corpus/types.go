// Package corpus defines the typed corpus the retrieval engine consumes:
// entities, edges between them, and the immutable per-epoch snapshot queries
// read. Parsing and extraction happen upstream; this package takes pre-extracted
// records, attaches ingest-time edge confidence from provenance, and publishes
// snapshots.
package corpus

import (
	"fmt"
	"time"

	"github.com/adalundhe/loupe/core/confidence"
)

// =============================================================================
// EntityKind
// =============================================================================

// EntityKind classifies a corpus entity.
type EntityKind string

const (
	// KindFunction is a function or method.
	KindFunction EntityKind = "function"

	// KindModule is a package or module.
	KindModule EntityKind = "module"

	// KindFile is a source file.
	KindFile EntityKind = "file"

	// KindDirectory is a directory grouping files.
	KindDirectory EntityKind = "directory"
)

// ValidEntityKinds returns all valid EntityKind values.
func ValidEntityKinds() []EntityKind {
	return []EntityKind{
		KindFunction,
		KindModule,
		KindFile,
		KindDirectory,
	}
}

// IsValid returns true if the kind is a recognized value.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindFunction, KindModule, KindFile, KindDirectory:
		return true
	default:
		return false
	}
}

// String returns the string representation of the kind.
func (k EntityKind) String() string {
	return string(k)
}

// ParseEntityKind parses a string into an EntityKind.
func ParseEntityKind(s string) (EntityKind, bool) {
	k := EntityKind(s)
	return k, k.IsValid()
}

// =============================================================================
// EdgeType
// =============================================================================

// EdgeType classifies a relationship between two entities.
type EdgeType string

const (
	// EdgeCalls links a caller to a callee.
	EdgeCalls EdgeType = "calls"

	// EdgeImports links an importer to the imported module.
	EdgeImports EdgeType = "imports"

	// EdgeContains links a container (directory, file, module) to a member.
	EdgeContains EdgeType = "contains"

	// EdgeReferences links an entity to one it mentions without calling.
	EdgeReferences EdgeType = "references"

	// EdgeCoChanged links entities that historically change together.
	EdgeCoChanged EdgeType = "co_changed"
)

// ValidEdgeTypes returns all valid EdgeType values.
func ValidEdgeTypes() []EdgeType {
	return []EdgeType{
		EdgeCalls,
		EdgeImports,
		EdgeContains,
		EdgeReferences,
		EdgeCoChanged,
	}
}

// IsValid returns true if the edge type is a recognized value.
func (t EdgeType) IsValid() bool {
	switch t {
	case EdgeCalls, EdgeImports, EdgeContains, EdgeReferences, EdgeCoChanged:
		return true
	default:
		return false
	}
}

// String returns the string representation of the edge type.
func (t EdgeType) String() string {
	return string(t)
}

// ParseEdgeType parses a string into an EdgeType.
func ParseEdgeType(s string) (EdgeType, bool) {
	t := EdgeType(s)
	return t, t.IsValid()
}

// =============================================================================
// ChurnStats
// =============================================================================

// ChurnStats carries the history-derived activity metadata signals read.
// Populated during ingest from git history; zero values mean no history was
// available for the entity.
type ChurnStats struct {
	// CommitCount is the number of commits touching the entity's file.
	CommitCount int `json:"commit_count,omitempty"`

	// LinesChanged is the total churn across those commits.
	LinesChanged int `json:"lines_changed,omitempty"`

	// LastModified is the author time of the most recent touching commit.
	LastModified time.Time `json:"last_modified,omitempty"`

	// Complexity is an upstream-supplied complexity estimate, unbounded.
	Complexity float64 `json:"complexity,omitempty"`
}

// HasHistory reports whether any history data was recorded.
func (c ChurnStats) HasHistory() bool {
	return c.CommitCount > 0 || !c.LastModified.IsZero()
}

// =============================================================================
// Entity
// =============================================================================

// Entity is a single unit of the corpus. Entities are immutable once their
// snapshot is built; re-indexing replaces them wholesale, never in place.
type Entity struct {
	ID         string     `json:"id"`
	Kind       EntityKind `json:"kind"`
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Line       int        `json:"line,omitempty"`
	DomainTags []string   `json:"domain_tags,omitempty"`
	Owner      string     `json:"owner,omitempty"`
	Doc        string     `json:"doc,omitempty"`
	Churn      ChurnStats `json:"churn,omitempty"`

	// HasEmbedding reports whether a vector exists for this entity in the
	// snapshot's vector set.
	HasEmbedding bool `json:"has_embedding,omitempty"`
}

// Validate checks the entity's required fields.
func (e *Entity) Validate() error {
	if e == nil {
		return fmt.Errorf("entity is nil")
	}
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("entity %s: invalid kind %q", e.ID, e.Kind)
	}
	if e.Name == "" {
		return fmt.Errorf("entity %s: name is required", e.ID)
	}
	if e.Line < 0 {
		return fmt.Errorf("entity %s: negative line %d", e.ID, e.Line)
	}
	return nil
}

// HasDomainTag reports whether the entity carries the given domain tag.
func (e *Entity) HasDomainTag(tag string) bool {
	for _, t := range e.DomainTags {
		if t == tag {
			return true
		}
	}
	return false
}

// =============================================================================
// Edge
// =============================================================================

// EdgeKey uniquely identifies an edge. Edges are append/replace keyed by
// (source, target, type).
type EdgeKey struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
}

// String returns a compact form used in logs and ledger evidence.
func (k EdgeKey) String() string {
	return fmt.Sprintf("%s-[%s]->%s", k.Source, k.Type, k.Target)
}

// Edge is a typed, weighted, confidence-scored relationship.
type Edge struct {
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Type     EdgeType `json:"edge_type"`

	// Weight in [0,1] expresses relationship strength independent of how
	// trustworthy its discovery was; confidence covers the latter.
	Weight float64 `json:"weight"`

	Confidence confidence.ConfidenceValue `json:"confidence"`

	// Provenance records how the edge was discovered; it determined
	// Confidence at ingest time.
	Provenance Provenance `json:"provenance"`

	ComputedAt time.Time `json:"computed_at"`
}

// Key returns the edge's identity key.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{Source: e.SourceID, Target: e.TargetID, Type: e.Type}
}

// Validate checks the edge's field invariants.
func (e *Edge) Validate() error {
	if e == nil {
		return fmt.Errorf("edge is nil")
	}
	if e.SourceID == "" || e.TargetID == "" {
		return fmt.Errorf("edge endpoints are required")
	}
	if e.SourceID == e.TargetID {
		return fmt.Errorf("edge %s: self loops are not allowed", e.SourceID)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("edge %s->%s: invalid type %q", e.SourceID, e.TargetID, e.Type)
	}
	if e.Weight < 0 || e.Weight > 1 {
		return fmt.Errorf("edge %s: weight %v outside [0,1]", e.Key(), e.Weight)
	}
	if err := e.Confidence.Validate(); err != nil {
		return fmt.Errorf("edge %s: %w", e.Key(), err)
	}
	return nil
}

// ConfidenceNumeric returns the edge confidence on the numeric axis, 0 when
// absent.
func (e *Edge) ConfidenceNumeric() float64 {
	v, ok := e.Confidence.Numeric()
	if !ok {
		return 0
	}
	return v
}
