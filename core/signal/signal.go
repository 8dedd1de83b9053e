// Package signal implements the pluggable relevance signal computers. Each
// computer turns one facet of a (entity, query) pair into a normalized score
// in [0,1]; the registry runs every computer whose inputs the query context
// can satisfy. A signal that cannot be evaluated is absent, which is never
// the same thing as zero.
package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/adalundhe/loupe/core/corpus"
)

// =============================================================================
// Signal Names
// =============================================================================

// Canonical signal names. Learned weights and explanations key on these.
const (
	NameSemanticSimilarity  = "semantic_similarity"
	NameLexicalMatch        = "lexical_match"
	NameStructuralProximity = "structural_proximity"
	NameCoChange            = "co_change"
	NameRecency             = "recency"
	NameDomainTag           = "domain_tag"
	NameOwnership           = "ownership"
	NameDependencyDistance  = "dependency_distance"
	NameHotspot             = "hotspot"
	NameDirectoryAffinity   = "directory_affinity"
	NameNameSalience        = "name_salience"
)

// =============================================================================
// Requirements
// =============================================================================

// Requirement names a collaborator input a computer needs. The registry skips
// computers whose requirements the context cannot satisfy; their signals are
// absent rather than zero.
type Requirement string

const (
	RequireTerms          Requirement = "terms"
	RequireLexicalScores  Requirement = "lexical_scores"
	RequireSemanticScores Requirement = "semantic_scores"
	RequireGraphDistance  Requirement = "graph_distance"
	RequireImportDistance Requirement = "import_distance"
	RequireSeeds          Requirement = "seeds"
	RequireSeedPaths      Requirement = "seed_paths"
	RequireDomains        Requirement = "domains"
	RequireOwnerHint      Requirement = "owner_hint"
	RequireHistory        Requirement = "history"
	RequireSnapshot       Requirement = "snapshot"
)

// =============================================================================
// Context
// =============================================================================

// Context carries the per-query inputs the computers read. The engine builds
// one Context per query after the retrieval channels finish; computers treat
// it as read-only.
type Context struct {
	// Intent is the raw query text.
	Intent string

	// Terms are the lowercased tokenized query terms, identifier parts
	// included.
	Terms []string

	// Identifiers are the case-preserved identifier candidates from the
	// intent.
	Identifiers []string

	// Domains are the requested domain filters.
	Domains []string

	// OwnerHint is the requested owner, empty when the query has none.
	OwnerHint string

	// SeedIDs are the entities already matched by the lexical or semantic
	// channels; graph-derived signals measure from them.
	SeedIDs []string

	// SeedPaths are the source paths of the seed entities.
	SeedPaths []string

	// Snapshot is the corpus epoch being queried.
	Snapshot *corpus.Snapshot

	// HasHistory reports whether git history was ingested for this corpus.
	// Without it, history-derived signals are absent, not zero.
	HasHistory bool

	// Now is the evaluation time; the zero value means time.Now().
	Now time.Time

	// LexicalScores maps entity id to lexical channel score. A nil map means
	// the channel did not run; a missing key means the channel ran and the
	// entity did not match.
	LexicalScores map[string]float64

	// SemanticScores maps entity id to semantic channel score, with the same
	// nil-versus-missing distinction as LexicalScores.
	SemanticScores map[string]float64

	// GraphDistance maps entity id to hop count from the nearest seed.
	// Seeds appear at distance zero; unreachable entities are missing.
	GraphDistance map[string]int

	// ImportDistance maps entity id to hops from the nearest seed following
	// only import edges.
	ImportDistance map[string]int

	seedOnce sync.Once
	seedSet  map[string]struct{}
}

// At returns the evaluation time, defaulting to the current time.
func (c *Context) At() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// IsSeed reports whether the entity is one of the query's seeds.
func (c *Context) IsSeed(id string) bool {
	c.seedOnce.Do(func() {
		c.seedSet = make(map[string]struct{}, len(c.SeedIDs))
		for _, seed := range c.SeedIDs {
			c.seedSet[seed] = struct{}{}
		}
	})
	_, ok := c.seedSet[id]
	return ok
}

// Satisfies reports whether the context provides the named input.
func (c *Context) Satisfies(req Requirement) bool {
	switch req {
	case RequireTerms:
		return len(c.Terms) > 0
	case RequireLexicalScores:
		return c.LexicalScores != nil
	case RequireSemanticScores:
		return c.SemanticScores != nil
	case RequireGraphDistance:
		return c.GraphDistance != nil
	case RequireImportDistance:
		return c.ImportDistance != nil
	case RequireSeeds:
		return len(c.SeedIDs) > 0
	case RequireSeedPaths:
		return len(c.SeedPaths) > 0
	case RequireDomains:
		return len(c.Domains) > 0
	case RequireOwnerHint:
		return c.OwnerHint != ""
	case RequireHistory:
		return c.HasHistory
	case RequireSnapshot:
		return c.Snapshot != nil
	default:
		return false
	}
}

// =============================================================================
// Computer Interface
// =============================================================================

// Computer evaluates one relevance signal for an entity against a query
// context. Compute returns the normalized score and true, or false when the
// signal cannot be evaluated for this entity. Computers are side-effect-free.
type Computer interface {
	// Name returns the canonical signal name.
	Name() string

	// Requires lists the context inputs this computer needs. The registry
	// skips the computer when any is unsatisfied.
	Requires() []Requirement

	// Compute evaluates the signal for the entity.
	Compute(e *corpus.Entity, qc *Context) (float64, bool)
}

// =============================================================================
// Registry
// =============================================================================

// Registry holds the registered computers in a deterministic order.
type Registry struct {
	computers map[string]Computer
	order     []string
	mu        sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{computers: make(map[string]Computer)}
}

// DefaultRegistry returns a Registry with every shipped computer registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range []Computer{
		&SemanticSimilarity{},
		&LexicalMatch{},
		&StructuralProximity{},
		&CoChange{},
		&Recency{},
		&DomainTag{},
		&Ownership{},
		&DependencyDistance{},
		&Hotspot{},
		&DirectoryAffinity{},
		&NameSalience{},
	} {
		// Shipped computers have unique names; Register cannot fail here.
		_ = r.Register(c)
	}
	return r
}

// Register adds a computer. Registering a duplicate name is an error.
func (r *Registry) Register(c Computer) error {
	if c == nil {
		return fmt.Errorf("computer is nil")
	}
	name := c.Name()
	if name == "" {
		return fmt.Errorf("computer name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.computers[name]; exists {
		return fmt.Errorf("signal %q already registered", name)
	}
	r.computers[name] = c
	r.order = append(r.order, name)
	return nil
}

// Get returns the computer registered under name.
func (r *Registry) Get(name string) (Computer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.computers[name]
	return c, ok
}

// Names returns the registered signal names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// CanRun reports whether the context satisfies every requirement of the
// computer.
func CanRun(c Computer, qc *Context) bool {
	for _, req := range c.Requires() {
		if !qc.Satisfies(req) {
			return false
		}
	}
	return true
}

// Unsatisfied returns the names of registered computers the context cannot
// run, in registration order. These are the absent signals a query
// explanation reports.
func (r *Registry) Unsatisfied(qc *Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var skipped []string
	for _, name := range r.order {
		if !CanRun(r.computers[name], qc) {
			skipped = append(skipped, name)
		}
	}
	return skipped
}

// ComputeAll evaluates every runnable computer for the entity. The returned
// map contains only evaluated signals; skipped or unevaluable signals are
// absent from it, never zero-filled.
func (r *Registry) ComputeAll(e *corpus.Entity, qc *Context) map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]float64, len(r.order))
	for _, name := range r.order {
		c := r.computers[name]
		if !CanRun(c, qc) {
			continue
		}
		v, ok := c.Compute(e, qc)
		if !ok {
			continue
		}
		out[name] = clamp01(v)
	}
	return out
}

// clamp01 bounds a computed score to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
