package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/loupe/core/confidence"
	"github.com/adalundhe/loupe/core/weights"
)

func snapshotWith(t *testing.T, initial map[string]float64) *weights.Snapshot {
	t.Helper()
	return weights.New(initial).Snapshot()
}

// =============================================================================
// Score Tests
// =============================================================================

func TestScore_WeightedSum(t *testing.T) {
	w := snapshotWith(t, map[string]float64{
		"semantic_similarity": 0.75,
		"lexical_match":       0.25,
	})
	raw := map[string]float64{
		"semantic_similarity": 0.8,
		"lexical_match":       0.4,
	}

	cv := Score(raw, w)

	require.Equal(t, confidence.KindDerived, cv.Kind)
	assert.InDelta(t, 0.8*0.75+0.4*0.25, cv.Value, 1e-9)
	assert.Equal(t, FormulaWeightedSum, cv.FormulaTag)
	assert.Equal(t, []string{"signal:lexical_match", "signal:semantic_similarity"}, cv.InputRefs)
}

func TestScore_AbsentSignalsExcludedFromDenominator(t *testing.T) {
	// Weights split 50/50, but only one signal was evaluated. The combined
	// score must renormalize to the present signal, not halve it.
	w := snapshotWith(t, map[string]float64{
		"semantic_similarity": 0.5,
		"lexical_match":       0.5,
	})
	raw := map[string]float64{"semantic_similarity": 0.8}

	cv := Score(raw, w)

	assert.InDelta(t, 0.8, cv.Value, 1e-9,
		"absent lexical_match must not drag the score toward zero")
	assert.Equal(t, []string{"signal:semantic_similarity"}, cv.InputRefs)
}

func TestScore_EmptySignalsIsAbsent(t *testing.T) {
	w := snapshotWith(t, map[string]float64{"semantic_similarity": 1})

	cv := Score(map[string]float64{}, w)

	require.True(t, cv.IsAbsent())
	assert.Equal(t, confidence.ReasonInsufficientData, cv.Reason)
}

func TestScore_UnknownSignalIgnored(t *testing.T) {
	w := snapshotWith(t, map[string]float64{"semantic_similarity": 1})
	raw := map[string]float64{
		"semantic_similarity": 0.6,
		"experimental_signal": 1.0,
	}

	cv := Score(raw, w)

	assert.InDelta(t, 0.6, cv.Value, 1e-9)
	assert.Equal(t, []string{"signal:semantic_similarity"}, cv.InputRefs)
}

func TestScore_OnlyUnknownSignalsIsAbsent(t *testing.T) {
	w := snapshotWith(t, map[string]float64{"semantic_similarity": 1})

	cv := Score(map[string]float64{"experimental_signal": 1.0}, w)

	require.True(t, cv.IsAbsent())
	assert.Equal(t, confidence.ReasonUncalibrated, cv.Reason)
}

func TestScore_NilWeightsAveragesUniformly(t *testing.T) {
	raw := map[string]float64{"a": 0.2, "b": 0.6}

	cv := Score(raw, nil)

	assert.InDelta(t, 0.4, cv.Value, 1e-9)
	assert.Equal(t, confidence.CalibrationProvisional, cv.Calibration)
}

func TestScore_CalibrationComesFromWeights(t *testing.T) {
	lw := weights.New(map[string]float64{"semantic_similarity": 1})
	raw := map[string]float64{"semantic_similarity": 0.5}

	cv := Score(raw, lw.Snapshot())
	assert.Equal(t, confidence.CalibrationUncalibrated, cv.Calibration)

	lw.RecordFeedback(30)
	cv = Score(raw, lw.Snapshot())
	assert.Equal(t, confidence.CalibrationCalibrated, cv.Calibration)
}

func TestScore_ResultStaysInUnitRange(t *testing.T) {
	w := snapshotWith(t, map[string]float64{"a": 0.3, "b": 0.7})

	cv := Score(map[string]float64{"a": 1.0, "b": 1.0}, w)

	assert.LessOrEqual(t, cv.Value, 1.0)
	assert.GreaterOrEqual(t, cv.Value, 0.0)
}

// =============================================================================
// ScoreDetailed Tests
// =============================================================================

func TestScoreDetailed_SharesSumToOne(t *testing.T) {
	w := snapshotWith(t, map[string]float64{
		"semantic_similarity": 0.30,
		"lexical_match":       0.25,
		"recency":             0.45,
	})
	raw := map[string]float64{
		"semantic_similarity": 0.9,
		"recency":             0.2,
	}

	result := ScoreDetailed(raw, w)

	require.Len(t, result.Explanations, 2)
	var shareSum float64
	for _, ex := range result.Explanations {
		shareSum += ex.Share
		assert.InDelta(t, ex.Value*ex.Share, ex.Contribution, 1e-9)
	}
	assert.InDelta(t, 1.0, shareSum, 1e-9)
}

func TestScoreDetailed_ExplanationsOrderedByContribution(t *testing.T) {
	w := snapshotWith(t, map[string]float64{
		"semantic_similarity": 0.5,
		"lexical_match":       0.5,
	})
	raw := map[string]float64{
		"semantic_similarity": 0.2,
		"lexical_match":       0.9,
	}

	result := ScoreDetailed(raw, w)

	require.Len(t, result.Explanations, 2)
	assert.Equal(t, "lexical_match", result.Explanations[0].Signal)
	assert.Equal(t, "semantic_similarity", result.Explanations[1].Signal)
}

func TestScoreDetailed_EmptySignalsHasNoExplanations(t *testing.T) {
	result := ScoreDetailed(nil, snapshotWith(t, map[string]float64{"a": 1}))

	assert.True(t, result.Confidence.IsAbsent())
	assert.Empty(t, result.Explanations)
}
