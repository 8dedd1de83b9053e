// Package scorer fuses per-signal relevance scores into a single confidence
// value using the learned signal weights. Absent signals are excluded from
// both the weighted sum and its normalization denominator; they are never
// filled with zero.
package scorer

import (
	"fmt"
	"sort"

	"github.com/adalundhe/loupe/core/confidence"
	"github.com/adalundhe/loupe/core/weights"
)

// FormulaWeightedSum tags confidence values produced by Score.
const FormulaWeightedSum = "weighted_sum"

// =============================================================================
// Explanations
// =============================================================================

// Explanation records one signal's contribution to a combined score.
type Explanation struct {
	// Signal is the canonical signal name.
	Signal string `json:"signal"`

	// Value is the raw signal score in [0,1].
	Value float64 `json:"value"`

	// Weight is the learned weight before normalization.
	Weight float64 `json:"weight"`

	// Share is the weight's fraction of the normalization denominator, so
	// shares of contributing signals sum to 1.
	Share float64 `json:"share"`

	// Contribution is Value times Share: the signal's portion of the
	// combined score.
	Contribution float64 `json:"contribution"`
}

// Result pairs the combined confidence with its per-signal breakdown.
type Result struct {
	Confidence   confidence.ConfidenceValue `json:"confidence"`
	Explanations []Explanation              `json:"explanations,omitempty"`
}

// =============================================================================
// Scoring
// =============================================================================

// Score combines the evaluated signals into a Derived confidence value. The
// raw map holds only signals that were actually evaluated; weights for
// signals not in the map contribute nothing to the denominator.
func Score(raw map[string]float64, w *weights.Snapshot) confidence.ConfidenceValue {
	return ScoreDetailed(raw, w).Confidence
}

// ScoreDetailed combines the evaluated signals and reports each signal's
// contribution. An empty signal map yields an absent value; a signal set
// whose weights sum to zero cannot be normalized and is absent as well.
func ScoreDetailed(raw map[string]float64, w *weights.Snapshot) Result {
	if len(raw) == 0 {
		return Result{Confidence: confidence.Absent(confidence.ReasonInsufficientData)}
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	var denom float64
	included := make([]string, 0, len(names))
	for _, name := range names {
		weight, known := weightFor(w, name)
		if !known || weight <= 0 {
			continue
		}
		denom += weight
		included = append(included, name)
	}

	if denom <= 0 {
		return Result{Confidence: confidence.Absent(confidence.ReasonUncalibrated)}
	}

	var sum float64
	refs := make([]string, 0, len(included))
	explanations := make([]Explanation, 0, len(included))
	for _, name := range included {
		weight, _ := weightFor(w, name)
		share := weight / denom
		value := raw[name]
		sum += value * share

		refs = append(refs, fmt.Sprintf("signal:%s", name))
		explanations = append(explanations, Explanation{
			Signal:       name,
			Value:        value,
			Weight:       weight,
			Share:        share,
			Contribution: value * share,
		})
	}

	sort.Slice(explanations, func(i, j int) bool {
		if explanations[i].Contribution != explanations[j].Contribution {
			return explanations[i].Contribution > explanations[j].Contribution
		}
		return explanations[i].Signal < explanations[j].Signal
	})

	return Result{
		Confidence:   confidence.Derived(sum, FormulaWeightedSum, refs, calibration(w)),
		Explanations: explanations,
	}
}

// weightFor resolves a signal's weight. A nil snapshot weighs every signal
// equally so scoring still works before any weights are loaded.
func weightFor(w *weights.Snapshot, name string) (float64, bool) {
	if w == nil {
		return 1, true
	}
	return w.Weight(name)
}

// calibration reports the calibration status scoring inherits from the
// weights snapshot.
func calibration(w *weights.Snapshot) confidence.CalibrationStatus {
	if w == nil {
		return confidence.CalibrationProvisional
	}
	return w.Status()
}
