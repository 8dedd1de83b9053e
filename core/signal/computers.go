package signal

import (
	"math"
	"strings"

	"github.com/adalundhe/loupe/core/corpus"
	"github.com/adalundhe/loupe/core/lexical"
)

// =============================================================================
// Channel-Derived Signals
// =============================================================================

// SemanticSimilarity reads the semantic channel's cosine-similarity score.
// When the channel ran but produced no score for the entity, the entity fell
// below the similarity gate: that is an evaluated zero, not an absent signal.
type SemanticSimilarity struct{}

func (SemanticSimilarity) Name() string { return NameSemanticSimilarity }

func (SemanticSimilarity) Requires() []Requirement {
	return []Requirement{RequireSemanticScores}
}

func (SemanticSimilarity) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	return qc.SemanticScores[e.ID], true
}

// LexicalMatch reads the lexical channel's tiered match score.
type LexicalMatch struct{}

func (LexicalMatch) Name() string { return NameLexicalMatch }

func (LexicalMatch) Requires() []Requirement {
	return []Requirement{RequireLexicalScores}
}

func (LexicalMatch) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	return qc.LexicalScores[e.ID], true
}

// StructuralProximity scores inverse graph distance from the seed set:
// 1/(1+hops), so seeds score 1.0 and entities unreachable within the
// traversal bound score 0.
type StructuralProximity struct{}

func (StructuralProximity) Name() string { return NameStructuralProximity }

func (StructuralProximity) Requires() []Requirement {
	return []Requirement{RequireGraphDistance}
}

func (StructuralProximity) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	hops, ok := qc.GraphDistance[e.ID]
	if !ok {
		return 0, true
	}
	return 1.0 / (1.0 + float64(hops)), true
}

// DependencyDistance scores inverse import-path distance from the seeds,
// following only import edges.
type DependencyDistance struct{}

func (DependencyDistance) Name() string { return NameDependencyDistance }

func (DependencyDistance) Requires() []Requirement {
	return []Requirement{RequireImportDistance}
}

func (DependencyDistance) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	hops, ok := qc.ImportDistance[e.ID]
	if !ok {
		return 0, true
	}
	return 1.0 / (1.0 + float64(hops)), true
}

// =============================================================================
// History-Derived Signals
// =============================================================================

// CoChange scores the strongest co-change correlation between the entity and
// any seed, read from the snapshot's co_changed edges. Requires ingested git
// history: without it the signal is absent, with it a missing correlation is
// a real zero.
type CoChange struct{}

func (CoChange) Name() string { return NameCoChange }

func (CoChange) Requires() []Requirement {
	return []Requirement{RequireHistory, RequireSeeds, RequireSnapshot}
}

func (CoChange) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	best := 0.0
	scan := func(edges []*corpus.Edge, far func(*corpus.Edge) string) {
		for _, edge := range edges {
			if edge.Type != corpus.EdgeCoChanged {
				continue
			}
			if qc.IsSeed(far(edge)) && edge.Weight > best {
				best = edge.Weight
			}
		}
	}
	scan(qc.Snapshot.OutEdges(e.ID), func(edge *corpus.Edge) string { return edge.TargetID })
	scan(qc.Snapshot.InEdges(e.ID), func(edge *corpus.Edge) string { return edge.SourceID })
	return best, true
}

// Recency scores modification recency with the decay 1/(1+ageHours/24): a
// just-touched entity scores 1.0, a day-old one 0.5. Entities with no
// recorded history are absent.
type Recency struct{}

func (Recency) Name() string { return NameRecency }

func (Recency) Requires() []Requirement {
	return []Requirement{RequireHistory}
}

func (Recency) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	if e.Churn.LastModified.IsZero() {
		return 0, false
	}
	age := qc.At().Sub(e.Churn.LastModified)
	if age < 0 {
		return 1.0, true
	}
	return 1.0 / (1.0 + age.Hours()/24.0), true
}

// Hotspot scores churn times complexity: log-scaled commit count (saturating
// at 100 commits) times a bounded complexity factor. Both inputs are needed;
// an entity without history or without a complexity estimate is absent.
type Hotspot struct{}

func (Hotspot) Name() string { return NameHotspot }

func (Hotspot) Requires() []Requirement {
	return []Requirement{RequireHistory}
}

func (Hotspot) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	if !e.Churn.HasHistory() || e.Churn.Complexity <= 0 {
		return 0, false
	}

	churn := math.Log1p(float64(e.Churn.CommitCount)) / math.Log1p(100)
	if churn > 1 {
		churn = 1
	}
	complexity := e.Churn.Complexity / (e.Churn.Complexity + 10)
	return churn * complexity, true
}

// =============================================================================
// Metadata Signals
// =============================================================================

// DomainTag scores the overlap between the query's domain filters and the
// entity's domain tags, as the fraction of requested domains matched.
type DomainTag struct{}

func (DomainTag) Name() string { return NameDomainTag }

func (DomainTag) Requires() []Requirement {
	return []Requirement{RequireDomains}
}

func (DomainTag) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	matched := 0
	for _, d := range qc.Domains {
		if e.HasDomainTag(d) {
			matched++
		}
	}
	return float64(matched) / float64(len(qc.Domains)), true
}

// Ownership scores the query's owner hint against the entity owner. An
// entity with no recorded owner is absent; a recorded mismatch is zero.
type Ownership struct{}

func (Ownership) Name() string { return NameOwnership }

func (Ownership) Requires() []Requirement {
	return []Requirement{RequireOwnerHint}
}

func (Ownership) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	if e.Owner == "" {
		return 0, false
	}
	if strings.EqualFold(e.Owner, qc.OwnerHint) {
		return 1, true
	}
	return 0, true
}

// DirectoryAffinity scores how much of the entity's directory path it shares
// with the closest seed path: common leading segments over the longer
// directory depth.
type DirectoryAffinity struct{}

func (DirectoryAffinity) Name() string { return NameDirectoryAffinity }

func (DirectoryAffinity) Requires() []Requirement {
	return []Requirement{RequireSeedPaths}
}

func (DirectoryAffinity) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	if e.Path == "" {
		return 0, false
	}

	best := 0.0
	for _, seedPath := range qc.SeedPaths {
		if affinity := pathAffinity(e.Path, seedPath); affinity > best {
			best = affinity
		}
	}
	return best, true
}

// pathAffinity compares the directory parts of two paths.
func pathAffinity(a, b string) float64 {
	dirA := dirSegments(a)
	dirB := dirSegments(b)

	longest := len(dirA)
	if len(dirB) > longest {
		longest = len(dirB)
	}
	if longest == 0 {
		// Both files sit at the corpus root: same directory.
		return 1.0
	}

	common := 0
	for common < len(dirA) && common < len(dirB) && dirA[common] == dirB[common] {
		common++
	}
	return float64(common) / float64(longest)
}

// dirSegments returns the directory components of a path, excluding the
// final file segment.
func dirSegments(path string) []string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) <= 1 {
		return nil
	}
	return segments[:len(segments)-1]
}

// NameSalience scores how much of the entity's identifier the query terms
// cover. A query containing the full identifier scores 1.0; otherwise the
// fraction of distinct identifier parts the terms mention.
type NameSalience struct{}

func (NameSalience) Name() string { return NameNameSalience }

func (NameSalience) Requires() []Requirement {
	return []Requirement{RequireTerms}
}

func (NameSalience) Compute(e *corpus.Entity, qc *Context) (float64, bool) {
	parts := lexical.SplitIdentifier(e.Name)
	if len(parts) == 0 {
		return 0, false
	}

	termSet := make(map[string]struct{}, len(qc.Terms))
	for _, t := range qc.Terms {
		termSet[t] = struct{}{}
	}

	if _, ok := termSet[strings.ToLower(e.Name)]; ok {
		return 1.0, true
	}

	unique := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		unique[p] = struct{}{}
	}

	covered := 0
	for p := range unique {
		if _, ok := termSet[p]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(unique)), true
}
