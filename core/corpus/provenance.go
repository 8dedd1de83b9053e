package corpus

import (
	"fmt"

	"github.com/adalundhe/loupe/core/confidence"
)

// =============================================================================
// ProvenanceSource
// =============================================================================

// ProvenanceSource identifies how a relationship was discovered.
type ProvenanceSource string

const (
	// SourceASTVerified means the relationship was resolved from a verified
	// syntax tree with both endpoints located.
	SourceASTVerified ProvenanceSource = "ast_verified"

	// SourceASTInferred means the relationship was inferred from partial
	// syntax information.
	SourceASTInferred ProvenanceSource = "ast_inferred"

	// SourceLLMFallback means a language model proposed the relationship
	// when structural extraction failed.
	SourceLLMFallback ProvenanceSource = "llm_fallback"
)

// ValidProvenanceSources returns all valid ProvenanceSource values.
func ValidProvenanceSources() []ProvenanceSource {
	return []ProvenanceSource{
		SourceASTVerified,
		SourceASTInferred,
		SourceLLMFallback,
	}
}

// IsValid returns true if the source is a recognized value.
func (s ProvenanceSource) IsValid() bool {
	switch s {
	case SourceASTVerified, SourceASTInferred, SourceLLMFallback:
		return true
	default:
		return false
	}
}

// String returns the string representation of the source.
func (s ProvenanceSource) String() string {
	return string(s)
}

// ParseProvenanceSource parses a string into a ProvenanceSource.
func ParseProvenanceSource(v string) (ProvenanceSource, bool) {
	s := ProvenanceSource(v)
	return s, s.IsValid()
}

// =============================================================================
// Provenance
// =============================================================================

// Provenance carries the discovery facts that determine an edge's confidence
// at ingest time.
type Provenance struct {
	Source ProvenanceSource `json:"source"`

	// ExactLine means the exact source line of the relationship is known.
	ExactLine bool `json:"exact_line,omitempty"`

	// Ambiguous means resolution matched more than one candidate target.
	Ambiguous bool `json:"ambiguous,omitempty"`

	// ExternalTarget means the target lives outside the indexed corpus and
	// could not be resolved.
	ExternalTarget bool `json:"external_target,omitempty"`

	// Typed means type information confirmed the relationship.
	Typed bool `json:"typed,omitempty"`
}

// Validate checks that the source is recognized.
func (p Provenance) Validate() error {
	if !p.Source.IsValid() {
		return fmt.Errorf("invalid provenance source %q", p.Source)
	}
	return nil
}

// =============================================================================
// ConfidenceTable
// =============================================================================

// ConfidenceTable holds the tunable constants mapping provenance to edge
// confidence: base value by source reliability, additive adjustments, and the
// clamp bounds. The values are heuristics, not derived probabilities; only
// their ordering and the resulting variance matter, so they live in
// configuration rather than code.
type ConfidenceTable struct {
	BaseASTVerified float64 `yaml:"base_ast_verified" json:"base_ast_verified"`
	BaseASTInferred float64 `yaml:"base_ast_inferred" json:"base_ast_inferred"`
	BaseLLMFallback float64 `yaml:"base_llm_fallback" json:"base_llm_fallback"`

	BonusExactLine   float64 `yaml:"bonus_exact_line" json:"bonus_exact_line"`
	PenaltyAmbiguous float64 `yaml:"penalty_ambiguous" json:"penalty_ambiguous"`
	PenaltyExternal  float64 `yaml:"penalty_external" json:"penalty_external"`
	BonusTyped       float64 `yaml:"bonus_typed" json:"bonus_typed"`

	Floor   float64 `yaml:"floor" json:"floor"`
	Ceiling float64 `yaml:"ceiling" json:"ceiling"`
}

// DefaultConfidenceTable returns the standard constants.
func DefaultConfidenceTable() ConfidenceTable {
	return ConfidenceTable{
		BaseASTVerified:  0.90,
		BaseASTInferred:  0.60,
		BaseLLMFallback:  0.40,
		BonusExactLine:   0.05,
		PenaltyAmbiguous: 0.10,
		PenaltyExternal:  0.15,
		BonusTyped:       0.05,
		Floor:            0.15,
		Ceiling:          0.95,
	}
}

// Validate checks the table's ordering and bound invariants.
func (t ConfidenceTable) Validate() error {
	if t.Floor < 0 || t.Ceiling > 1 || t.Floor >= t.Ceiling {
		return fmt.Errorf("confidence table bounds invalid: floor=%v ceiling=%v", t.Floor, t.Ceiling)
	}
	if !(t.BaseASTVerified > t.BaseASTInferred && t.BaseASTInferred > t.BaseLLMFallback) {
		return fmt.Errorf("confidence table bases must be strictly ordered verified > inferred > fallback")
	}
	if t.BonusExactLine < 0 || t.BonusTyped < 0 || t.PenaltyAmbiguous < 0 || t.PenaltyExternal < 0 {
		return fmt.Errorf("confidence table adjustments must be non-negative magnitudes")
	}
	return nil
}

// FormulaProvenanceTable tags edge confidences computed from provenance.
const FormulaProvenanceTable = "provenance_table"

// ComputeEdgeConfidence maps provenance to a confidence value using the
// table: base by source, additive adjustments, clamped to [Floor, Ceiling].
// Computed once at ingest, never per query. An invalid provenance source
// yields Absent rather than a silent mid value.
func ComputeEdgeConfidence(p Provenance, table ConfidenceTable) confidence.ConfidenceValue {
	refs := []string{"base:" + p.Source.String()}

	var base float64
	switch p.Source {
	case SourceASTVerified:
		base = table.BaseASTVerified
	case SourceASTInferred:
		base = table.BaseASTInferred
	case SourceLLMFallback:
		base = table.BaseLLMFallback
	default:
		return confidence.Absent(confidence.ReasonInsufficientData)
	}

	value := base
	if p.ExactLine {
		value += table.BonusExactLine
		refs = append(refs, "exact_line")
	}
	if p.Ambiguous {
		value -= table.PenaltyAmbiguous
		refs = append(refs, "ambiguous")
	}
	if p.ExternalTarget {
		value -= table.PenaltyExternal
		refs = append(refs, "external_target")
	}
	if p.Typed {
		value += table.BonusTyped
		refs = append(refs, "typed")
	}

	if value < table.Floor {
		value = table.Floor
	}
	if value > table.Ceiling {
		value = table.Ceiling
	}
	return confidence.Derived(value, FormulaProvenanceTable, refs, confidence.CalibrationProvisional)
}
