package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntity(id string, kind EntityKind) *Entity {
	return &Entity{
		ID:   id,
		Kind: kind,
		Name: id,
		Path: "internal/auth/" + id + ".go",
	}
}

func buildTestSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	b := NewBuilder(1)
	for _, id := range []string{"login", "validateEmail", "sessionStore"} {
		require.NoError(t, b.AddEntity(testEntity(id, KindFunction)))
	}
	require.NoError(t, b.AddEdge(&Edge{
		SourceID: "login", TargetID: "validateEmail", Type: EdgeCalls, Weight: 1.0,
		Provenance: Provenance{Source: SourceASTVerified, ExactLine: true},
	}))
	require.NoError(t, b.AddEdge(&Edge{
		SourceID: "login", TargetID: "sessionStore", Type: EdgeReferences, Weight: 0.8,
		Provenance: Provenance{Source: SourceASTInferred},
	}))
	snap, err := b.Build()
	require.NoError(t, err)
	return snap
}

// =============================================================================
// Builder
// =============================================================================

func TestBuilder_AddEntity_RejectsInvalid(t *testing.T) {
	b := NewBuilder(1)

	assert.Error(t, b.AddEntity(&Entity{ID: "", Kind: KindFunction, Name: "x"}))
	assert.Error(t, b.AddEntity(&Entity{ID: "x", Kind: "gadget", Name: "x"}))
	assert.Error(t, b.AddEntity(&Entity{ID: "x", Kind: KindFunction}))
}

func TestBuilder_AddEdge_ComputesConfidenceFromProvenance(t *testing.T) {
	snap := buildTestSnapshot(t)

	edge := snap.Edge(EdgeKey{Source: "login", Target: "validateEmail", Type: EdgeCalls})
	require.NotNil(t, edge)
	assert.InDelta(t, 0.95, edge.ConfidenceNumeric(), 1e-12)
	assert.False(t, edge.ComputedAt.IsZero())
}

func TestBuilder_AddEdge_ReplacesByKey(t *testing.T) {
	b := NewBuilder(1)
	require.NoError(t, b.AddEntity(testEntity("a", KindFunction)))
	require.NoError(t, b.AddEntity(testEntity("b", KindFunction)))

	require.NoError(t, b.AddEdge(&Edge{
		SourceID: "a", TargetID: "b", Type: EdgeCalls, Weight: 0.5,
		Provenance: Provenance{Source: SourceLLMFallback},
	}))
	require.NoError(t, b.AddEdge(&Edge{
		SourceID: "a", TargetID: "b", Type: EdgeCalls, Weight: 0.9,
		Provenance: Provenance{Source: SourceASTVerified},
	}))

	snap, err := b.Build()
	require.NoError(t, err)
	require.Equal(t, 1, snap.EdgeCount())

	edge := snap.Edge(EdgeKey{Source: "a", Target: "b", Type: EdgeCalls})
	assert.Equal(t, 0.9, edge.Weight)
	assert.InDelta(t, 0.90, edge.ConfidenceNumeric(), 1e-12)
}

func TestBuilder_AddEdge_RejectsSelfLoopAndBadWeight(t *testing.T) {
	b := NewBuilder(1)
	require.NoError(t, b.AddEntity(testEntity("a", KindFunction)))
	require.NoError(t, b.AddEntity(testEntity("b", KindFunction)))

	assert.Error(t, b.AddEdge(&Edge{
		SourceID: "a", TargetID: "a", Type: EdgeCalls, Weight: 0.5,
		Provenance: Provenance{Source: SourceASTVerified},
	}))
	assert.Error(t, b.AddEdge(&Edge{
		SourceID: "a", TargetID: "b", Type: EdgeCalls, Weight: 1.5,
		Provenance: Provenance{Source: SourceASTVerified},
	}))
}

func TestBuilder_Build_RejectsDanglingEdges(t *testing.T) {
	b := NewBuilder(1)
	require.NoError(t, b.AddEntity(testEntity("a", KindFunction)))
	require.NoError(t, b.AddEdge(&Edge{
		SourceID: "a", TargetID: "ghost", Type: EdgeCalls, Weight: 1,
		Provenance: Provenance{Source: SourceASTVerified},
	}))

	_, err := b.Build()
	assert.ErrorContains(t, err, "unknown target entity")
}

// =============================================================================
// Snapshot
// =============================================================================

func TestSnapshot_Adjacency(t *testing.T) {
	snap := buildTestSnapshot(t)

	out := snap.OutEdges("login")
	require.Len(t, out, 2)
	// Sorted by type then target: calls before references.
	assert.Equal(t, EdgeCalls, out[0].Type)
	assert.Equal(t, "validateEmail", out[0].TargetID)
	assert.Equal(t, EdgeReferences, out[1].Type)

	in := snap.InEdges("validateEmail")
	require.Len(t, in, 1)
	assert.Equal(t, "login", in[0].SourceID)

	assert.Empty(t, snap.OutEdges("validateEmail"))
}

func TestSnapshot_EntityIDsSorted(t *testing.T) {
	snap := buildTestSnapshot(t)
	assert.Equal(t, []string{"login", "sessionStore", "validateEmail"}, snap.EntityIDs())
}

func TestSnapshot_Stats(t *testing.T) {
	snap := buildTestSnapshot(t)
	stats := snap.Stats()

	assert.Equal(t, uint64(1), stats.Epoch)
	assert.Equal(t, 3, stats.Entities)
	assert.Equal(t, 2, stats.Edges)
	assert.Equal(t, 3, stats.EntitiesByKind["function"])
	assert.Equal(t, 1, stats.EdgesByType["calls"])
	assert.Equal(t, 2, stats.DistinctEdgeConfidences)
}
