package retriever

import (
	"fmt"
	"sort"

	"github.com/adalundhe/loupe/core/confidence"
)

// Coverage gap tags. Stable machine-readable markers downstream callers
// branch on; human text may follow the tag after a space.
const (
	// GapNoSemanticMatch marks a degraded result set produced after every
	// channel came back empty.
	GapNoSemanticMatch = "no_semantic_match"

	// GapWatchStateMissing marks results touching entities whose source
	// files changed since indexing.
	GapWatchStateMissing = "watch_state_missing"

	// GapEmbedderUnavailable marks queries served with fallback embeddings
	// because the configured provider failed.
	GapEmbedderUnavailable = "embedder_unavailable"

	// GapHistoryUnavailable marks corpora indexed without git history;
	// history-derived signals were absent for every candidate.
	GapHistoryUnavailable = "history_unavailable"

	// GapChannelTimeoutPrefix prefixes per-channel timeout markers, e.g.
	// "channel_timeout:semantic".
	GapChannelTimeoutPrefix = "channel_timeout:"
)

// ChannelTimeoutGap renders the coverage gap tag for a timed-out channel.
func ChannelTimeoutGap(channel string) string {
	return GapChannelTimeoutPrefix + channel
}

// Candidate is one query-scoped scoring unit: an entity, the raw signals that
// fired for it, and the fused confidence. Ephemeral; never outlives the query.
type Candidate struct {
	// EntityID identifies the entity in the queried snapshot.
	EntityID string `json:"entity_id"`

	// Signals holds the evaluated raw signal scores. A missing key means the
	// signal was absent for this candidate, not zero.
	Signals map[string]float64 `json:"signals"`

	// Lexical, Semantic and Graph are the per-channel scores; zero means the
	// channel did not produce this candidate.
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
	Graph    float64 `json:"graph"`

	// Combined is the fused confidence from the multi-signal scorer.
	Combined confidence.ConfidenceValue `json:"combined"`

	// Shares maps signal name to its weight share of the combined score,
	// recorded for the feedback learner's window.
	Shares map[string]float64 `json:"shares,omitempty"`

	// GraphPath traces seed to entity when graph expansion found it.
	GraphPath []string `json:"graph_path,omitempty"`

	// Explanation lists human-readable scoring evidence.
	Explanation []string `json:"explanation"`

	// Exact reports a full-identifier lexical match.
	Exact bool `json:"exact,omitempty"`
}

// CombinedNumeric returns the fused confidence on the numeric axis, zero when
// absent.
func (c *Candidate) CombinedNumeric() float64 {
	v, ok := c.Combined.Numeric()
	if !ok {
		return 0
	}
	return v
}

// Explain appends a formatted explanation line.
func (c *Candidate) Explain(format string, args ...any) {
	c.Explanation = append(c.Explanation, fmt.Sprintf(format, args...))
}

// sortCandidates orders candidates: exact lexical matches first, then fused
// confidence descending, entity id as the deterministic tiebreak. Exact
// full-identifier matches ranking above everything else is a contract, not a
// scoring tendency.
func sortCandidates(candidates []*Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Exact != candidates[j].Exact {
			return candidates[i].Exact
		}
		a, b := candidates[i].CombinedNumeric(), candidates[j].CombinedNumeric()
		if a != b {
			return a > b
		}
		return candidates[i].EntityID < candidates[j].EntityID
	})
}

// Result is the retriever's output for one query.
type Result struct {
	// Candidates are the ranked scoring units, best first.
	Candidates []*Candidate `json:"candidates"`

	// SeedIDs are the channel-matched entities graph expansion started from.
	SeedIDs []string `json:"seed_ids,omitempty"`

	// CoverageGaps lists the degradations this result self-reports.
	CoverageGaps []string `json:"coverage_gaps,omitempty"`

	// TimedOut names channels that exceeded their per-channel timeout.
	TimedOut []string `json:"timed_out,omitempty"`

	// Fallback reports a degraded general result set: every channel came
	// back empty and confidence is capped.
	Fallback bool `json:"fallback,omitempty"`
}

// AddGap records a coverage gap once.
func (r *Result) AddGap(tag string) {
	for _, existing := range r.CoverageGaps {
		if existing == tag {
			return
		}
	}
	r.CoverageGaps = append(r.CoverageGaps, tag)
}
