package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/loupe/core/confidence"
)

func edgeConfidenceNumeric(t *testing.T, p Provenance) float64 {
	t.Helper()
	v, ok := ComputeEdgeConfidence(p, DefaultConfidenceTable()).Numeric()
	require.True(t, ok)
	return v
}

// =============================================================================
// ComputeEdgeConfidence
// =============================================================================

func TestComputeEdgeConfidence_BaseBySource(t *testing.T) {
	assert.InDelta(t, 0.90, edgeConfidenceNumeric(t, Provenance{Source: SourceASTVerified}), 1e-12)
	assert.InDelta(t, 0.60, edgeConfidenceNumeric(t, Provenance{Source: SourceASTInferred}), 1e-12)
	assert.InDelta(t, 0.40, edgeConfidenceNumeric(t, Provenance{Source: SourceLLMFallback}), 1e-12)
}

func TestComputeEdgeConfidence_AdditiveAdjustments(t *testing.T) {
	tests := []struct {
		name string
		prov Provenance
		want float64
	}{
		{
			"exact line adds 0.05",
			Provenance{Source: SourceASTInferred, ExactLine: true},
			0.65,
		},
		{
			"ambiguous subtracts 0.10",
			Provenance{Source: SourceASTInferred, Ambiguous: true},
			0.50,
		},
		{
			"external target subtracts 0.15",
			Provenance{Source: SourceASTInferred, ExternalTarget: true},
			0.45,
		},
		{
			"typed adds 0.05",
			Provenance{Source: SourceASTInferred, Typed: true},
			0.65,
		},
		{
			"adjustments stack",
			Provenance{Source: SourceASTVerified, ExactLine: true, Typed: true, Ambiguous: true},
			0.90,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, edgeConfidenceNumeric(t, tt.prov), 1e-12)
		})
	}
}

func TestComputeEdgeConfidence_ClampsToFloorAndCeiling(t *testing.T) {
	// 0.40 - 0.10 - 0.15 = 0.15 exactly at floor; push below with both.
	low := edgeConfidenceNumeric(t, Provenance{
		Source: SourceLLMFallback, Ambiguous: true, ExternalTarget: true,
	})
	assert.InDelta(t, 0.15, low, 1e-12)

	// 0.90 + 0.05 + 0.05 = 1.00 clamps to 0.95.
	high := edgeConfidenceNumeric(t, Provenance{
		Source: SourceASTVerified, ExactLine: true, Typed: true,
	})
	assert.InDelta(t, 0.95, high, 1e-12)
}

func TestComputeEdgeConfidence_InvalidSourceYieldsAbsent(t *testing.T) {
	v := ComputeEdgeConfidence(Provenance{Source: "guesswork"}, DefaultConfidenceTable())
	assert.True(t, v.IsAbsent())
}

func TestComputeEdgeConfidence_RecordsProvenanceRefs(t *testing.T) {
	v := ComputeEdgeConfidence(Provenance{Source: SourceASTInferred, ExactLine: true, Typed: true}, DefaultConfidenceTable())

	require.Equal(t, confidence.KindDerived, v.Kind)
	assert.Equal(t, FormulaProvenanceTable, v.FormulaTag)
	assert.Equal(t, []string{"base:ast_inferred", "exact_line", "typed"}, v.InputRefs)
}

func TestComputeEdgeConfidence_MixedCorpusProducesVariance(t *testing.T) {
	// The distribution across realistic provenance mixes must never collapse
	// to a constant; five distinct values is the documented minimum.
	provs := []Provenance{
		{Source: SourceASTVerified, ExactLine: true, Typed: true},
		{Source: SourceASTVerified},
		{Source: SourceASTInferred, ExactLine: true},
		{Source: SourceASTInferred, Ambiguous: true},
		{Source: SourceLLMFallback},
		{Source: SourceLLMFallback, ExternalTarget: true},
	}
	seen := make(map[float64]struct{})
	for _, p := range provs {
		seen[edgeConfidenceNumeric(t, p)] = struct{}{}
	}
	assert.GreaterOrEqual(t, len(seen), 5)
}

// =============================================================================
// ConfidenceTable
// =============================================================================

func TestConfidenceTable_Validate(t *testing.T) {
	require.NoError(t, DefaultConfidenceTable().Validate())

	bad := DefaultConfidenceTable()
	bad.BaseASTInferred = 0.95
	assert.Error(t, bad.Validate(), "bases must stay ordered")

	bad = DefaultConfidenceTable()
	bad.Floor = 0.96
	assert.Error(t, bad.Validate())

	bad = DefaultConfidenceTable()
	bad.PenaltyAmbiguous = -0.1
	assert.Error(t, bad.Validate())
}
