// Package confidence implements the confidence value type and the composition
// algebra the retrieval engine uses to propagate uncertainty. A ConfidenceValue
// is a closed five-variant tagged union; every composition function in this
// package switches exhaustively over all five kinds.
package confidence

import (
	"encoding/json"
	"fmt"
	"math"
)

// =============================================================================
// Kind
// =============================================================================

// Kind identifies the variant of a ConfidenceValue.
type Kind string

const (
	// KindDeterministic is a certain outcome: the value is exactly 0 or 1,
	// with a reason describing why it is known.
	KindDeterministic Kind = "deterministic"

	// KindMeasured is an empirically observed rate with a sample size and a
	// 95% confidence interval, traceable to a dataset.
	KindMeasured Kind = "measured"

	// KindBounded is a value known only to lie within [Low, High].
	KindBounded Kind = "bounded"

	// KindDerived is a value produced by composing other confidence values
	// through an algebra operator.
	KindDerived Kind = "derived"

	// KindAbsent means no confidence information is available. Absent is not
	// zero: zero is a known-bad outcome, absent is an unknown one.
	KindAbsent Kind = "absent"
)

// ValidKinds returns all valid Kind values.
func ValidKinds() []Kind {
	return []Kind{
		KindDeterministic,
		KindMeasured,
		KindBounded,
		KindDerived,
		KindAbsent,
	}
}

// IsValid returns true if the kind is a recognized value.
func (k Kind) IsValid() bool {
	switch k {
	case KindDeterministic, KindMeasured, KindBounded, KindDerived, KindAbsent:
		return true
	default:
		return false
	}
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind parses a string into a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	return k, k.IsValid()
}

// rank positions a kind in the total order used for comparisons:
// Absent < Bounded < Measured|Derived < Deterministic.
func (k Kind) rank() int {
	switch k {
	case KindAbsent:
		return 0
	case KindBounded:
		return 1
	case KindMeasured, KindDerived:
		return 2
	case KindDeterministic:
		return 3
	default:
		return -1
	}
}

// =============================================================================
// CalibrationStatus
// =============================================================================

// CalibrationStatus records how much feedback evidence backs a derived value.
type CalibrationStatus string

const (
	// CalibrationUncalibrated means no feedback has validated this formula.
	CalibrationUncalibrated CalibrationStatus = "uncalibrated"

	// CalibrationProvisional means some feedback exists but below the
	// calibration threshold.
	CalibrationProvisional CalibrationStatus = "provisional"

	// CalibrationCalibrated means the formula's outputs have been validated
	// against observed outcomes.
	CalibrationCalibrated CalibrationStatus = "calibrated"
)

// IsValid returns true if the status is a recognized value.
func (c CalibrationStatus) IsValid() bool {
	switch c {
	case CalibrationUncalibrated, CalibrationProvisional, CalibrationCalibrated:
		return true
	default:
		return false
	}
}

// order is used when composition takes the weakest calibration of its inputs.
func (c CalibrationStatus) order() int {
	switch c {
	case CalibrationUncalibrated:
		return 0
	case CalibrationProvisional:
		return 1
	case CalibrationCalibrated:
		return 2
	default:
		return 0
	}
}

// =============================================================================
// Well-known absence reasons
// =============================================================================

const (
	// ReasonInsufficientData marks absence caused by an empty input set.
	ReasonInsufficientData = "insufficient_data"

	// ReasonUncalibrated marks absence propagated from an absent input.
	ReasonUncalibrated = "uncalibrated"
)

// =============================================================================
// ConfidenceValue
// =============================================================================

// ConfidenceValue is the tagged union at the core of the engine. Exactly the
// fields belonging to the active Kind are meaningful; constructors keep the
// numeric invariant that every numeric field lies in [0,1].
type ConfidenceValue struct {
	Kind Kind `json:"kind"`

	// Value holds the numeric confidence for Deterministic, Measured and
	// Derived variants.
	Value float64 `json:"value,omitempty"`

	// Reason describes Deterministic certainty or Absent unavailability.
	Reason string `json:"reason,omitempty"`

	// Measured fields.
	SampleSize int     `json:"sample_size,omitempty"`
	CI95Low    float64 `json:"ci95_low,omitempty"`
	CI95High   float64 `json:"ci95_high,omitempty"`
	DatasetID  string  `json:"dataset_id,omitempty"`

	// Bounded fields.
	Low   float64 `json:"low,omitempty"`
	High  float64 `json:"high,omitempty"`
	Basis string  `json:"basis,omitempty"`

	// Derived fields.
	FormulaTag  string            `json:"formula_tag,omitempty"`
	InputRefs   []string          `json:"input_refs,omitempty"`
	Calibration CalibrationStatus `json:"calibration_status,omitempty"`
}

// Deterministic builds a certain value: outcome true means confidence 1.0,
// false means 0.0. The bool parameter enforces the 0|1 restriction in the type.
func Deterministic(outcome bool, reason string) ConfidenceValue {
	v := 0.0
	if outcome {
		v = 1.0
	}
	return ConfidenceValue{
		Kind:   KindDeterministic,
		Value:  v,
		Reason: reason,
	}
}

// Measured builds an empirically observed confidence. Value and interval
// bounds are clamped to [0,1]; an inverted interval is reordered.
func Measured(value float64, sampleSize int, ci95Low, ci95High float64, datasetID string) ConfidenceValue {
	lo, hi := clamp01(ci95Low), clamp01(ci95High)
	if lo > hi {
		lo, hi = hi, lo
	}
	if sampleSize < 0 {
		sampleSize = 0
	}
	return ConfidenceValue{
		Kind:       KindMeasured,
		Value:      clamp01(value),
		SampleSize: sampleSize,
		CI95Low:    lo,
		CI95High:   hi,
		DatasetID:  datasetID,
	}
}

// Bounded builds a value known only to lie within [low, high].
func Bounded(low, high float64, basis string) ConfidenceValue {
	lo, hi := clamp01(low), clamp01(high)
	if lo > hi {
		lo, hi = hi, lo
	}
	return ConfidenceValue{
		Kind:  KindBounded,
		Low:   lo,
		High:  hi,
		Basis: basis,
	}
}

// Derived builds a composed value produced by an algebra operator.
func Derived(value float64, formulaTag string, inputRefs []string, status CalibrationStatus) ConfidenceValue {
	if !status.IsValid() {
		status = CalibrationUncalibrated
	}
	return ConfidenceValue{
		Kind:        KindDerived,
		Value:       clamp01(value),
		FormulaTag:  formulaTag,
		InputRefs:   inputRefs,
		Calibration: status,
	}
}

// Absent builds the unknown value. Reason should be a stable machine tag such
// as ReasonInsufficientData.
func Absent(reason string) ConfidenceValue {
	return ConfidenceValue{
		Kind:   KindAbsent,
		Reason: reason,
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Numeric collapses the value to a single float64. Bounded collapses to the
// interval midpoint, which loses the range information; callers that need the
// interval must read Low/High before composing. Absent returns (0, false).
func (v ConfidenceValue) Numeric() (float64, bool) {
	switch v.Kind {
	case KindDeterministic, KindMeasured, KindDerived:
		return v.Value, true
	case KindBounded:
		return (v.Low + v.High) / 2, true
	case KindAbsent:
		return 0, false
	default:
		return 0, false
	}
}

// IsAbsent reports whether no confidence information is available.
func (v ConfidenceValue) IsAbsent() bool {
	return v.Kind == KindAbsent
}

// Compare orders two values: first by variant rank
// (Absent < Bounded < Measured|Derived < Deterministic), then by numeric
// value. Returns -1, 0, or 1.
func (v ConfidenceValue) Compare(other ConfidenceValue) int {
	if d := v.Kind.rank() - other.Kind.rank(); d != 0 {
		return sign(d)
	}
	a, aok := v.Numeric()
	b, bok := other.Numeric()
	if !aok && !bok {
		return 0
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Validate checks the variant's field invariants.
func (v ConfidenceValue) Validate() error {
	if !v.Kind.IsValid() {
		return fmt.Errorf("invalid confidence kind %q", v.Kind)
	}
	switch v.Kind {
	case KindDeterministic:
		if v.Value != 0 && v.Value != 1 {
			return fmt.Errorf("deterministic value must be 0 or 1, got %v", v.Value)
		}
	case KindMeasured:
		if err := checkUnit("value", v.Value); err != nil {
			return err
		}
		if v.CI95Low > v.CI95High {
			return fmt.Errorf("measured ci95 interval inverted: [%v, %v]", v.CI95Low, v.CI95High)
		}
		if v.SampleSize < 0 {
			return fmt.Errorf("measured sample size negative: %d", v.SampleSize)
		}
	case KindBounded:
		if err := checkUnit("low", v.Low); err != nil {
			return err
		}
		if err := checkUnit("high", v.High); err != nil {
			return err
		}
		if v.Low > v.High {
			return fmt.Errorf("bounded interval inverted: [%v, %v]", v.Low, v.High)
		}
	case KindDerived:
		if err := checkUnit("value", v.Value); err != nil {
			return err
		}
		if !v.Calibration.IsValid() {
			return fmt.Errorf("invalid calibration status %q", v.Calibration)
		}
	case KindAbsent:
		if v.Reason == "" {
			return fmt.Errorf("absent confidence requires a reason")
		}
	}
	return nil
}

// Ref renders a compact reference string used as an input_refs entry when this
// value feeds a derived composition.
func (v ConfidenceValue) Ref() string {
	switch v.Kind {
	case KindDeterministic:
		return fmt.Sprintf("deterministic(%.2f)", v.Value)
	case KindMeasured:
		return fmt.Sprintf("measured(%.2f,n=%d)", v.Value, v.SampleSize)
	case KindBounded:
		return fmt.Sprintf("bounded[%.2f,%.2f]", v.Low, v.High)
	case KindDerived:
		return fmt.Sprintf("derived(%.2f,%s)", v.Value, v.FormulaTag)
	case KindAbsent:
		return fmt.Sprintf("absent(%s)", v.Reason)
	default:
		return "invalid"
	}
}

// String implements fmt.Stringer with the same compact form as Ref.
func (v ConfidenceValue) String() string {
	return v.Ref()
}

// =============================================================================
// JSON
// =============================================================================

// confidenceValueJSON mirrors ConfidenceValue for (un)marshalling so the
// methods below can hook validation without recursing.
type confidenceValueJSON ConfidenceValue

// MarshalJSON encodes the value as a tagged object.
func (v ConfidenceValue) MarshalJSON() ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(confidenceValueJSON(v))
}

// UnmarshalJSON decodes a tagged object and validates the result.
func (v *ConfidenceValue) UnmarshalJSON(data []byte) error {
	var raw confidenceValueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := ConfidenceValue(raw)
	if err := decoded.Validate(); err != nil {
		return err
	}
	*v = decoded
	return nil
}

// =============================================================================
// Order helpers
// =============================================================================

// Strongest returns the maximum of the given values under the total order.
// Identity element: Deterministic(false, ...) (numeric 0). Associative,
// commutative, and idempotent.
func Strongest(values ...ConfidenceValue) ConfidenceValue {
	if len(values) == 0 {
		return Absent(ReasonInsufficientData)
	}
	best := values[0]
	for _, v := range values[1:] {
		if v.Compare(best) > 0 {
			best = v
		}
	}
	return best
}

// Weakest returns the minimum of the given values under the total order.
// Identity element: Deterministic(true, ...) (numeric 1). Associative,
// commutative, and idempotent.
func Weakest(values ...ConfidenceValue) ConfidenceValue {
	if len(values) == 0 {
		return Absent(ReasonInsufficientData)
	}
	worst := values[0]
	for _, v := range values[1:] {
		if v.Compare(worst) < 0 {
			worst = v
		}
	}
	return worst
}

// =============================================================================
// Internal helpers
// =============================================================================

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func checkUnit(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must lie in [0,1], got %v", field, v)
	}
	return nil
}

func sign(d int) int {
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}
