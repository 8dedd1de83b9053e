package confidence

import (
	"math"
)

// =============================================================================
// Formula tags
// =============================================================================

const (
	// FormulaSequenceMin tags values produced by Sequence.
	FormulaSequenceMin = "sequence_min"

	// FormulaParallelAllProduct tags values produced by ParallelAll without
	// a correlation adjustment.
	FormulaParallelAllProduct = "parallel_all_product"

	// FormulaParallelAllFrechet tags values produced by ParallelAll with a
	// correlation adjustment toward the Frechet bounds.
	FormulaParallelAllFrechet = "parallel_all_frechet"

	// FormulaParallelAnyNoisyOr tags values produced by ParallelAny.
	FormulaParallelAnyNoisyOr = "parallel_any_noisy_or"

	// FormulaMax tags values produced by Max.
	FormulaMax = "max"
)

// =============================================================================
// Sequence
// =============================================================================

// Sequence composes the confidence of dependent pipeline steps. The numeric
// result is the minimum of the step values: a chain is no more trustworthy
// than its weakest step. Absent propagation is strict because a pipeline with
// one unknown step is itself unknown.
func Sequence(steps []ConfidenceValue) ConfidenceValue {
	if len(steps) == 0 {
		return Absent(ReasonInsufficientData)
	}
	values, refs, status, ok := collectNumeric(steps)
	if !ok {
		return Absent(ReasonUncalibrated)
	}
	minV := values[0]
	for _, v := range values[1:] {
		if v < minV {
			minV = v
		}
	}
	return Derived(minV, FormulaSequenceMin, refs, status)
}

// =============================================================================
// Max
// =============================================================================

// Max composes alternatives on the numeric axis: the result value is the
// largest input value. Identity element is a zero-valued input; Max is
// associative, commutative, and idempotent. Absent propagation is strict,
// matching Sequence.
func Max(values []ConfidenceValue) ConfidenceValue {
	if len(values) == 0 {
		return Absent(ReasonInsufficientData)
	}
	nums, refs, status, ok := collectNumeric(values)
	if !ok {
		return Absent(ReasonUncalibrated)
	}
	maxV := nums[0]
	for _, v := range nums[1:] {
		if v > maxV {
			maxV = v
		}
	}
	return Derived(maxV, FormulaMax, refs, status)
}

// =============================================================================
// ParallelAll
// =============================================================================

// ParallelOptions adjusts ParallelAll for correlated branches.
type ParallelOptions struct {
	// Correlation in [-1,1] moves the independence product toward the
	// Frechet bounds: +1 reaches min(values) (perfect positive
	// correlation), -1 reaches max(0, sum-(n-1)) (perfect negative
	// correlation). Zero keeps the plain product.
	Correlation float64
}

// ParallelAll composes branches that must all hold. With no options the
// numeric result is the product of branch values, which assumes the branches
// are independent; callers whose branches share an underlying data source
// must pass a correlation. Absent propagation is strict.
func ParallelAll(branches []ConfidenceValue, opts *ParallelOptions) ConfidenceValue {
	if len(branches) == 0 {
		return Absent(ReasonInsufficientData)
	}
	values, refs, status, ok := collectNumeric(branches)
	if !ok {
		return Absent(ReasonUncalibrated)
	}

	product := 1.0
	sum := 0.0
	minV := values[0]
	for _, v := range values {
		product *= v
		sum += v
		if v < minV {
			minV = v
		}
	}

	formula := FormulaParallelAllProduct
	result := product
	if opts != nil && opts.Correlation != 0 {
		corr := clamp(opts.Correlation, -1, 1)
		formula = FormulaParallelAllFrechet
		if corr > 0 {
			// Upper Frechet bound: min of the branch values.
			result = product + corr*(minV-product)
		} else {
			// Lower Frechet bound: max(0, sum-(n-1)).
			lower := math.Max(0, sum-float64(len(values)-1))
			result = product + (-corr)*(lower-product)
		}
	}
	return Derived(clamp01(result), formula, refs, status)
}

// =============================================================================
// ParallelAny
// =============================================================================

// AbsentHandling selects how ParallelAny treats absent branches.
type AbsentHandling string

const (
	// AbsentStrict propagates any absent branch as an absent result.
	AbsentStrict AbsentHandling = "strict"

	// AbsentRelaxed computes over the non-absent branches only. Use for
	// fallback and redundancy chains where an unevaluable alternative
	// should not poison the rest.
	AbsentRelaxed AbsentHandling = "relaxed"
)

// IsValid returns true if the handling is a recognized value.
func (h AbsentHandling) IsValid() bool {
	switch h {
	case AbsentStrict, AbsentRelaxed:
		return true
	default:
		return false
	}
}

// ParallelAny composes redundant branches where any one holding suffices,
// via noisy-or: 1 - product(1-v). The identity element is a zero-valued
// branch; noisy-or is associative and commutative.
func ParallelAny(branches []ConfidenceValue, handling AbsentHandling) ConfidenceValue {
	if len(branches) == 0 {
		return Absent(ReasonInsufficientData)
	}
	if !handling.IsValid() {
		handling = AbsentStrict
	}

	usable := branches
	if handling == AbsentRelaxed {
		usable = make([]ConfidenceValue, 0, len(branches))
		for _, b := range branches {
			if !b.IsAbsent() {
				usable = append(usable, b)
			}
		}
		if len(usable) == 0 {
			return Absent(ReasonInsufficientData)
		}
	}

	values, refs, status, ok := collectNumeric(usable)
	if !ok {
		return Absent(ReasonUncalibrated)
	}
	failAll := 1.0
	for _, v := range values {
		failAll *= 1 - v
	}
	return Derived(1-failAll, FormulaParallelAnyNoisyOr, refs, status)
}

// =============================================================================
// BayesianUpdate
// =============================================================================

// EventKind classifies a feedback observation.
type EventKind string

const (
	// EventPositive is a confirmation that a result was relevant.
	EventPositive EventKind = "positive"

	// EventNegative is a report that a result was not relevant.
	EventNegative EventKind = "negative"
)

// IsValid returns true if the kind is a recognized value.
func (k EventKind) IsValid() bool {
	switch k {
	case EventPositive, EventNegative:
		return true
	default:
		return false
	}
}

// Event is a single feedback observation. Strength scales positive deltas
// (usefulness in [0,1]); negative deltas apply at full policy strength
// regardless, see UpdatePolicy.
type Event struct {
	Kind     EventKind
	Strength float64
}

// UpdatePolicy holds the documented policy constants for confidence updates.
// NegativeDelta is deliberately larger than PositiveDelta: a stated
// conservatism asymmetry, not something derived from Bayes' rule.
type UpdatePolicy struct {
	// PositiveDelta is the base upward step, scaled by event strength.
	PositiveDelta float64

	// NegativeDelta is the fixed downward step.
	NegativeDelta float64

	// Floor and Ceiling bound every posterior. Nothing observed through
	// feedback alone may reach certainty in either direction.
	Floor   float64
	Ceiling float64
}

// DefaultUpdatePolicy returns the standard policy constants.
func DefaultUpdatePolicy() UpdatePolicy {
	return UpdatePolicy{
		PositiveDelta: 0.05,
		NegativeDelta: 0.10,
		Floor:         0.10,
		Ceiling:       0.95,
	}
}

// Validate checks policy invariants.
func (p UpdatePolicy) Validate() bool {
	return p.PositiveDelta > 0 &&
		p.NegativeDelta > 0 &&
		p.Floor >= 0 && p.Ceiling <= 1 &&
		p.Floor < p.Ceiling
}

// BayesianUpdate applies a feedback event to a prior under the default
// policy.
func BayesianUpdate(prior float64, ev Event) float64 {
	return BayesianUpdateWithPolicy(prior, ev, DefaultUpdatePolicy())
}

// BayesianUpdateWithPolicy applies a feedback event to a prior. Positive
// events move the posterior up by PositiveDelta scaled by strength; negative
// events move it down by the full NegativeDelta. The result is clamped to
// [Floor, Ceiling].
func BayesianUpdateWithPolicy(prior float64, ev Event, policy UpdatePolicy) float64 {
	if !policy.Validate() {
		policy = DefaultUpdatePolicy()
	}
	posterior := clamp01(prior)
	switch ev.Kind {
	case EventPositive:
		posterior += policy.PositiveDelta * clamp01(ev.Strength)
	case EventNegative:
		posterior -= policy.NegativeDelta
	}
	return clamp(posterior, policy.Floor, policy.Ceiling)
}

// =============================================================================
// Internal helpers
// =============================================================================

// collectNumeric extracts numeric values and refs from inputs, reporting
// ok=false when any input is absent. The returned calibration status is the
// weakest one among the inputs.
func collectNumeric(inputs []ConfidenceValue) ([]float64, []string, CalibrationStatus, bool) {
	values := make([]float64, 0, len(inputs))
	refs := make([]string, 0, len(inputs))
	status := CalibrationCalibrated
	for _, in := range inputs {
		v, ok := in.Numeric()
		if !ok {
			return nil, nil, CalibrationUncalibrated, false
		}
		values = append(values, v)
		refs = append(refs, in.Ref())
		if s := inputStatus(in); s.order() < status.order() {
			status = s
		}
	}
	return values, refs, status, true
}

// inputStatus maps a value to the calibration it contributes to a derivation.
// Deterministic and Measured values carry direct evidence; Bounded values are
// provisional by construction; Derived values carry their own status.
func inputStatus(v ConfidenceValue) CalibrationStatus {
	switch v.Kind {
	case KindDeterministic, KindMeasured:
		return CalibrationCalibrated
	case KindBounded:
		return CalibrationProvisional
	case KindDerived:
		if v.Calibration.IsValid() {
			return v.Calibration
		}
		return CalibrationUncalibrated
	case KindAbsent:
		return CalibrationUncalibrated
	default:
		return CalibrationUncalibrated
	}
}
