package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/loupe/core/corpus"
	"github.com/adalundhe/loupe/core/lexical"
)

// =============================================================================
// Context Tests
// =============================================================================

func TestContext_Satisfies(t *testing.T) {
	tests := []struct {
		name string
		ctx  *Context
		req  Requirement
		want bool
	}{
		{"terms present", &Context{Terms: []string{"login"}}, RequireTerms, true},
		{"terms missing", &Context{}, RequireTerms, false},
		{"lexical scores nil map", &Context{}, RequireLexicalScores, false},
		{"lexical scores empty map", &Context{LexicalScores: map[string]float64{}}, RequireLexicalScores, true},
		{"semantic scores present", &Context{SemanticScores: map[string]float64{}}, RequireSemanticScores, true},
		{"graph distance present", &Context{GraphDistance: map[string]int{}}, RequireGraphDistance, true},
		{"seeds present", &Context{SeedIDs: []string{"a"}}, RequireSeeds, true},
		{"owner hint empty", &Context{}, RequireOwnerHint, false},
		{"owner hint set", &Context{OwnerHint: "payments-team"}, RequireOwnerHint, true},
		{"history flag", &Context{HasHistory: true}, RequireHistory, true},
		{"unknown requirement", &Context{}, Requirement("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ctx.Satisfies(tt.req))
		})
	}
}

func TestContext_IsSeed(t *testing.T) {
	ctx := &Context{SeedIDs: []string{"a", "b"}}

	assert.True(t, ctx.IsSeed("a"))
	assert.True(t, ctx.IsSeed("b"))
	assert.False(t, ctx.IsSeed("c"))
}

func TestContext_At_DefaultsToNow(t *testing.T) {
	ctx := &Context{}

	assert.WithinDuration(t, time.Now(), ctx.At(), time.Second)

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, (&Context{Now: fixed}).At())
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestDefaultRegistry_RegistersAllShippedSignals(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{
		NameSemanticSimilarity,
		NameLexicalMatch,
		NameStructuralProximity,
		NameCoChange,
		NameRecency,
		NameDomainTag,
		NameOwnership,
		NameDependencyDistance,
		NameHotspot,
		NameDirectoryAffinity,
		NameNameSalience,
	}, r.Names())
}

func TestRegistry_Register_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&LexicalMatch{}))
	err := r.Register(&LexicalMatch{})

	assert.ErrorContains(t, err, "already registered")
}

func TestRegistry_Unsatisfied_EmptyContextSkipsEverything(t *testing.T) {
	r := DefaultRegistry()

	skipped := r.Unsatisfied(&Context{})

	assert.Len(t, skipped, len(r.Names()))
}

func TestRegistry_ComputeAll_OmitsSkippedSignals(t *testing.T) {
	r := DefaultRegistry()
	e := &corpus.Entity{ID: "fn:a", Kind: corpus.KindFunction, Name: "login", Path: "auth/login.py"}
	qc := &Context{
		Terms:         []string{"login"},
		LexicalScores: map[string]float64{"fn:a": 0.9},
	}

	signals := r.ComputeAll(e, qc)

	assert.Contains(t, signals, NameLexicalMatch)
	assert.Contains(t, signals, NameNameSalience)
	assert.NotContains(t, signals, NameSemanticSimilarity, "channel did not run")
	assert.NotContains(t, signals, NameRecency, "no history ingested")
	assert.NotContains(t, signals, NameOwnership, "no owner hint")
}

func TestRegistry_ComputeAll_NeverZeroFillsAbsentSignals(t *testing.T) {
	r := DefaultRegistry()
	e := &corpus.Entity{ID: "fn:a", Kind: corpus.KindFunction, Name: "login"}

	signals := r.ComputeAll(e, &Context{})

	assert.Empty(t, signals)
}

// =============================================================================
// Channel-Derived Computer Tests
// =============================================================================

func TestSemanticSimilarity_PassesThroughChannelScore(t *testing.T) {
	c := &SemanticSimilarity{}
	e := &corpus.Entity{ID: "fn:a"}

	v, ok := c.Compute(e, &Context{SemanticScores: map[string]float64{"fn:a": 0.72}})

	require.True(t, ok)
	assert.InDelta(t, 0.72, v, 1e-9)
}

func TestSemanticSimilarity_BelowGateIsEvaluatedZero(t *testing.T) {
	c := &SemanticSimilarity{}
	e := &corpus.Entity{ID: "fn:missing"}

	v, ok := c.Compute(e, &Context{SemanticScores: map[string]float64{"fn:a": 0.72}})

	require.True(t, ok, "channel ran: missing entity is a real zero, not absent")
	assert.Zero(t, v)
}

func TestStructuralProximity_InverseDistance(t *testing.T) {
	c := &StructuralProximity{}
	qc := &Context{GraphDistance: map[string]int{"seed": 0, "near": 1, "far": 2}}

	tests := []struct {
		id   string
		want float64
	}{
		{"seed", 1.0},
		{"near", 0.5},
		{"far", 1.0 / 3.0},
		{"unreachable", 0.0},
	}
	for _, tt := range tests {
		v, ok := c.Compute(&corpus.Entity{ID: tt.id}, qc)
		require.True(t, ok)
		assert.InDelta(t, tt.want, v, 1e-9, tt.id)
	}
}

func TestDependencyDistance_InverseImportHops(t *testing.T) {
	c := &DependencyDistance{}
	qc := &Context{ImportDistance: map[string]int{"mod:a": 1}}

	v, ok := c.Compute(&corpus.Entity{ID: "mod:a"}, qc)
	require.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)
}

// =============================================================================
// History-Derived Computer Tests
// =============================================================================

func coChangeSnapshot(t *testing.T) *corpus.Snapshot {
	t.Helper()

	builder := corpus.NewBuilder(1)
	for _, id := range []string{"fn:a", "fn:b", "fn:c"} {
		require.NoError(t, builder.AddEntity(&corpus.Entity{
			ID: id, Kind: corpus.KindFunction, Name: id[3:], Path: id[3:] + ".py",
		}))
	}
	require.NoError(t, builder.AddEdge(&corpus.Edge{
		SourceID: "fn:a", TargetID: "fn:b", Type: corpus.EdgeCoChanged, Weight: 0.8,
		Provenance: corpus.Provenance{Source: corpus.SourceASTVerified},
	}))
	require.NoError(t, builder.AddEdge(&corpus.Edge{
		SourceID: "fn:c", TargetID: "fn:a", Type: corpus.EdgeCoChanged, Weight: 0.3,
		Provenance: corpus.Provenance{Source: corpus.SourceASTVerified},
	}))

	snap, err := builder.Build()
	require.NoError(t, err)
	return snap
}

func TestCoChange_StrongestCorrelationWithSeeds(t *testing.T) {
	c := &CoChange{}
	snap := coChangeSnapshot(t)
	qc := &Context{HasHistory: true, SeedIDs: []string{"fn:b", "fn:c"}, Snapshot: snap}

	v, ok := c.Compute(snap.Entity("fn:a"), qc)

	require.True(t, ok)
	assert.InDelta(t, 0.8, v, 1e-9, "max over out-edge to fn:b (0.8) and in-edge from fn:c (0.3)")
}

func TestCoChange_NoCorrelationIsZero(t *testing.T) {
	c := &CoChange{}
	snap := coChangeSnapshot(t)
	qc := &Context{HasHistory: true, SeedIDs: []string{"fn:c"}, Snapshot: snap}

	v, ok := c.Compute(snap.Entity("fn:b"), qc)

	require.True(t, ok, "history exists: no correlation is a real zero")
	assert.Zero(t, v)
}

func TestRecency_DecaysByDay(t *testing.T) {
	c := &Recency{}
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	dayOld := &corpus.Entity{ID: "fn:a", Churn: corpus.ChurnStats{
		LastModified: now.Add(-24 * time.Hour),
	}}
	v, ok := c.Compute(dayOld, &Context{HasHistory: true, Now: now})
	require.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)

	fresh := &corpus.Entity{ID: "fn:b", Churn: corpus.ChurnStats{LastModified: now}}
	v, ok = c.Compute(fresh, &Context{HasHistory: true, Now: now})
	require.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestRecency_NoTimestampIsAbsent(t *testing.T) {
	c := &Recency{}

	_, ok := c.Compute(&corpus.Entity{ID: "fn:a"}, &Context{HasHistory: true})

	assert.False(t, ok)
}

func TestHotspot_ChurnTimesComplexity(t *testing.T) {
	c := &Hotspot{}
	e := &corpus.Entity{ID: "fn:a", Churn: corpus.ChurnStats{
		CommitCount: 100,
		Complexity:  10,
	}}

	v, ok := c.Compute(e, &Context{HasHistory: true})

	require.True(t, ok)
	// log1p(100)/log1p(100) = 1.0 churn, complexity factor 10/(10+10) = 0.5.
	assert.InDelta(t, 0.5, v, 1e-9)
}

func TestHotspot_MissingComplexityIsAbsent(t *testing.T) {
	c := &Hotspot{}
	e := &corpus.Entity{ID: "fn:a", Churn: corpus.ChurnStats{CommitCount: 50}}

	_, ok := c.Compute(e, &Context{HasHistory: true})

	assert.False(t, ok)
}

// =============================================================================
// Metadata Computer Tests
// =============================================================================

func TestDomainTag_FractionOfRequestedDomains(t *testing.T) {
	c := &DomainTag{}
	e := &corpus.Entity{ID: "fn:a", DomainTags: []string{"auth", "session"}}

	v, ok := c.Compute(e, &Context{Domains: []string{"auth"}})
	require.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-9)

	v, ok = c.Compute(e, &Context{Domains: []string{"auth", "billing"}})
	require.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)

	v, ok = c.Compute(&corpus.Entity{ID: "fn:b"}, &Context{Domains: []string{"auth"}})
	require.True(t, ok, "untagged entity simply does not match")
	assert.Zero(t, v)
}

func TestOwnership(t *testing.T) {
	c := &Ownership{}

	v, ok := c.Compute(&corpus.Entity{Owner: "Payments-Team"}, &Context{OwnerHint: "payments-team"})
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = c.Compute(&corpus.Entity{Owner: "auth-team"}, &Context{OwnerHint: "payments-team"})
	require.True(t, ok)
	assert.Zero(t, v)

	_, ok = c.Compute(&corpus.Entity{}, &Context{OwnerHint: "payments-team"})
	assert.False(t, ok, "unknown owner is absent, not a mismatch")
}

func TestDirectoryAffinity(t *testing.T) {
	c := &DirectoryAffinity{}

	tests := []struct {
		name  string
		path  string
		seeds []string
		want  float64
	}{
		{"same directory", "auth/validate.py", []string{"auth/login.py"}, 1.0},
		{"sibling directories", "billing/invoice.py", []string{"auth/login.py"}, 0.0},
		{"shared parent", "app/auth/login.py", []string{"app/billing/invoice.py"}, 0.5},
		{"both at root", "main.py", []string{"app.py"}, 1.0},
		{"best seed wins", "auth/validate.py", []string{"billing/x.py", "auth/y.py"}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &corpus.Entity{ID: "fn:a", Path: tt.path}
			v, ok := c.Compute(e, &Context{SeedPaths: tt.seeds})
			require.True(t, ok)
			assert.InDelta(t, tt.want, v, 1e-9)
		})
	}
}

func TestDirectoryAffinity_NoPathIsAbsent(t *testing.T) {
	c := &DirectoryAffinity{}

	_, ok := c.Compute(&corpus.Entity{ID: "fn:a"}, &Context{SeedPaths: []string{"auth/login.py"}})

	assert.False(t, ok)
}

func TestNameSalience(t *testing.T) {
	c := &NameSalience{}
	e := &corpus.Entity{ID: "fn:a", Name: "validateEmail"}

	v, ok := c.Compute(e, &Context{Terms: lexical.TokenizeQuery("fix validateEmail bug")})
	require.True(t, ok)
	assert.Equal(t, 1.0, v, "full identifier in the query")

	v, ok = c.Compute(e, &Context{Terms: lexical.TokenizeQuery("email handling")})
	require.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9, "one of two identifier parts covered")

	v, ok = c.Compute(e, &Context{Terms: lexical.TokenizeQuery("renderInvoice")})
	require.True(t, ok)
	assert.Zero(t, v)
}
