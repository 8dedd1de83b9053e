// Package retriever generates and scores query candidates from three
// independent channels: lexical term match, semantic nearest-neighbor, and
// graph expansion from already-matched seeds. Channel results are unioned,
// filtered, run through the signal registry, and fused by the scorer; an
// all-empty channel set degrades to a capped-confidence fallback instead of
// inventing certainty.
package retriever

import (
	"strings"

	"github.com/gobwas/glob"

	loupeerrors "github.com/adalundhe/loupe/core/errors"
	"github.com/adalundhe/loupe/core/lexical"
)

// =============================================================================
// Mode
// =============================================================================

// Mode selects which retrieval channels a query runs.
type Mode string

const (
	// ModeLexical runs only the term-match channel.
	ModeLexical Mode = "lexical"

	// ModeSemantic runs only the embedding nearest-neighbor channel.
	ModeSemantic Mode = "semantic"

	// ModeGraph expands the graph from lexical seed matches.
	ModeGraph Mode = "graph"

	// ModeHybrid runs all three channels. The default.
	ModeHybrid Mode = "hybrid"
)

// ValidModes returns all valid Mode values.
func ValidModes() []Mode {
	return []Mode{ModeLexical, ModeSemantic, ModeGraph, ModeHybrid}
}

// IsValid returns true if the mode is a recognized value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeLexical, ModeSemantic, ModeGraph, ModeHybrid:
		return true
	default:
		return false
	}
}

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// ParseMode parses a string into a Mode.
func ParseMode(s string) (Mode, bool) {
	m := Mode(s)
	return m, m.IsValid()
}

func (m Mode) runsLexical() bool {
	// Graph mode needs lexical matches as expansion seeds.
	return m == ModeLexical || m == ModeHybrid || m == ModeGraph
}

func (m Mode) runsSemantic() bool {
	return m == ModeSemantic || m == ModeHybrid
}

func (m Mode) runsGraph() bool {
	return m == ModeGraph || m == ModeHybrid
}

// =============================================================================
// Depth
// =============================================================================

// Depth selects retrieval breadth: per-channel K and graph hops scale with it.
type Depth string

const (
	// DepthL1 is a tight retrieval for cheap, focused queries.
	DepthL1 Depth = "L1"

	// DepthL2 doubles channel breadth and adds a graph hop.
	DepthL2 Depth = "L2"

	// DepthL3 is the widest retrieval for exploratory queries.
	DepthL3 Depth = "L3"
)

// ValidDepths returns all valid Depth values.
func ValidDepths() []Depth {
	return []Depth{DepthL1, DepthL2, DepthL3}
}

// IsValid returns true if the depth is a recognized value.
func (d Depth) IsValid() bool {
	switch d {
	case DepthL1, DepthL2, DepthL3:
		return true
	default:
		return false
	}
}

// String returns the string representation of the depth.
func (d Depth) String() string {
	return string(d)
}

// ParseDepth parses a string into a Depth.
func ParseDepth(s string) (Depth, bool) {
	d := Depth(s)
	return d, d.IsValid()
}

// scale returns the channel-breadth multiplier for the depth.
func (d Depth) scale() int {
	switch d {
	case DepthL2:
		return 2
	case DepthL3:
		return 3
	default:
		return 1
	}
}

// extraHops returns the additional graph hops the depth allows.
func (d Depth) extraHops() int {
	if d == DepthL3 {
		return 1
	}
	return 0
}

// =============================================================================
// Filters
// =============================================================================

// Filters narrow the candidate set before scoring.
type Filters struct {
	// Domain keeps only entities carrying the tag.
	Domain string `json:"domain,omitempty"`

	// PathPrefix keeps only entities whose path matches the prefix or glob
	// pattern.
	PathPrefix string `json:"path_prefix,omitempty"`
}

// IsZero reports whether no filters are set.
func (f Filters) IsZero() bool {
	return f.Domain == "" && f.PathPrefix == ""
}

// compiled holds the per-request filter state.
type compiledFilters struct {
	domain     string
	pathPrefix string
	pathGlob   glob.Glob
}

func (f Filters) compile() compiledFilters {
	cf := compiledFilters{domain: f.Domain, pathPrefix: f.PathPrefix}
	if f.PathPrefix != "" {
		if g, err := glob.Compile(f.PathPrefix); err == nil {
			cf.pathGlob = g
		}
	}
	return cf
}

func (cf compiledFilters) matchPath(path string) bool {
	if cf.pathPrefix == "" {
		return true
	}
	if strings.HasPrefix(path, cf.pathPrefix) {
		return true
	}
	return cf.pathGlob != nil && cf.pathGlob.Match(path)
}

// =============================================================================
// Request
// =============================================================================

// Request is one retrieval query as handed over by the transport layer.
type Request struct {
	// Intent is the natural-language query.
	Intent string `json:"intent"`

	// Mode selects the channels; empty means hybrid.
	Mode Mode `json:"mode,omitempty"`

	// Depth selects retrieval breadth; empty means L1.
	Depth Depth `json:"depth,omitempty"`

	// MaxResults caps the returned packs; zero uses the configured default.
	MaxResults int `json:"max_results,omitempty"`

	// Filters narrow candidates before scoring.
	Filters Filters `json:"filters,omitempty"`

	// DeadlineMS bounds the whole request; zero uses the engine default.
	DeadlineMS int64 `json:"deadline_ms,omitempty"`

	// OwnerHint biases the ownership signal; optional.
	OwnerHint string `json:"owner_hint,omitempty"`
}

// Normalize fills defaulted fields in place.
func (r *Request) Normalize() {
	if r.Mode == "" {
		r.Mode = ModeHybrid
	}
	if r.Depth == "" {
		r.Depth = DepthL1
	}
	r.Intent = strings.TrimSpace(r.Intent)
}

// Validate rejects malformed requests. Invalid requests are rejected, never
// reinterpreted.
func (r *Request) Validate() error {
	if r.Intent == "" {
		return loupeerrors.New(loupeerrors.ClassInvalidArgument, "query intent is required")
	}
	if !r.Mode.IsValid() {
		return loupeerrors.New(loupeerrors.ClassInvalidArgument, "unknown query mode "+string(r.Mode))
	}
	if !r.Depth.IsValid() {
		return loupeerrors.New(loupeerrors.ClassInvalidArgument, "unknown query depth "+string(r.Depth))
	}
	if r.MaxResults < 0 {
		return loupeerrors.New(loupeerrors.ClassInvalidArgument, "max_results must not be negative")
	}
	// Graph mode seeds its expansion from identifier matches; an intent
	// with no identifier-shaped terms has no seed source.
	if r.Mode == ModeGraph && len(lexical.QueryIdentifiers(r.Intent)) == 0 {
		return loupeerrors.New(loupeerrors.ClassInvalidArgument,
			"graph mode requires an identifier in the intent to seed expansion")
	}
	return nil
}
