package graph

import (
	"errors"
	"fmt"

	"github.com/adalundhe/loupe/core/corpus"
)

// DefaultPathPenaltyBase is the per-hop decay applied to path confidence.
const DefaultPathPenaltyBase = 0.9

var (
	// ErrPathTooShort is returned for paths with fewer than two entities.
	ErrPathTooShort = errors.New("path requires at least two entities")

	// ErrPathBroken is returned when consecutive path entities share no edge.
	ErrPathBroken = errors.New("path entities are not connected")
)

// PathConfidence scores a multi-hop path as the product of its edge
// confidences times a length penalty strictly decreasing in hop count, so two
// paths with equally confident edges never score equal at different lengths.
// Consecutive entities may be connected in either direction; when several
// edges connect a pair the strongest one counts.
func PathConfidence(snap *corpus.Snapshot, path []string, penaltyBase float64) (float64, error) {
	if len(path) < 2 {
		return 0, ErrPathTooShort
	}
	if penaltyBase <= 0 || penaltyBase >= 1 {
		penaltyBase = DefaultPathPenaltyBase
	}

	product := 1.0
	for i := 0; i < len(path)-1; i++ {
		conf, ok := bestEdgeConfidence(snap, path[i], path[i+1])
		if !ok {
			return 0, fmt.Errorf("%w: %s -> %s", ErrPathBroken, path[i], path[i+1])
		}
		product *= conf
	}

	penalty := 1.0
	for hop := 0; hop < len(path)-1; hop++ {
		penalty *= penaltyBase
	}
	return product * penalty, nil
}

// bestEdgeConfidence finds the strongest edge between two entities in either
// direction.
func bestEdgeConfidence(snap *corpus.Snapshot, a, b string) (float64, bool) {
	if snap == nil {
		return 0, false
	}
	best := 0.0
	found := false
	for _, e := range snap.OutEdges(a) {
		if e.TargetID == b {
			found = true
			if c := e.ConfidenceNumeric(); c > best {
				best = c
			}
		}
	}
	for _, e := range snap.InEdges(a) {
		if e.SourceID == b {
			found = true
			if c := e.ConfidenceNumeric(); c > best {
				best = c
			}
		}
	}
	return best, found
}
