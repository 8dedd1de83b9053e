package feedback

import (
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Window defaults.
const (
	// DefaultWindowSize bounds retained observations per signal.
	DefaultWindowSize = 200

	// DefaultMinObservations is the evidence floor before a signal's window
	// can propose a nudge, per outcome side.
	DefaultMinObservations = 10

	// DefaultGapThreshold is the contribution-share gap between positive and
	// negative outcomes beyond which a signal counts as systematically mis-
	// weighted.
	DefaultGapThreshold = 0.10

	// DefaultNudgeStep is the proposed weight delta; the weights layer
	// applies its own bound on top.
	DefaultNudgeStep = 0.02
)

// observation is one (signal share, outcome) pair from a rated candidate.
type observation struct {
	share    float64
	positive bool
}

// Window keeps a bounded rolling window of per-signal contribution shares
// split by feedback outcome, and proposes weight nudges when a signal's
// share differs systematically between relevant and not-relevant results.
// Safe for concurrent use.
type Window struct {
	size            int
	minObservations int
	gapThreshold    float64
	step            float64

	mu  sync.Mutex
	obs map[string][]observation
}

// NewWindow creates a Window with the default tuning.
func NewWindow() *Window {
	return &Window{
		size:            DefaultWindowSize,
		minObservations: DefaultMinObservations,
		gapThreshold:    DefaultGapThreshold,
		step:            DefaultNudgeStep,
		obs:             make(map[string][]observation),
	}
}

// NewWindowWithTuning creates a Window with explicit tuning; non-positive
// values fall back to the defaults.
func NewWindowWithTuning(size, minObservations int, gapThreshold, step float64) *Window {
	w := NewWindow()
	if size > 0 {
		w.size = size
	}
	if minObservations > 0 {
		w.minObservations = minObservations
	}
	if gapThreshold > 0 {
		w.gapThreshold = gapThreshold
	}
	if step > 0 {
		w.step = step
	}
	return w
}

// Observe records one rated candidate's per-signal contribution shares under
// its feedback outcome. Oldest observations fall off once a signal's window
// is full.
func (w *Window) Observe(shares map[string]float64, positive bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for name, share := range shares {
		window := append(w.obs[name], observation{share: share, positive: positive})
		if len(window) > w.size {
			window = window[len(window)-w.size:]
		}
		w.obs[name] = window
	}
}

// Count returns the number of retained observations for a signal.
func (w *Window) Count(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.obs[name])
}

// ProposeNudges returns the bounded weight deltas the current window
// supports. A signal whose mean share among relevant results exceeds its
// mean share among not-relevant results by more than the gap threshold is
// under-weighted and proposed up; the inverse proposes down. Signals without
// enough evidence on both sides propose nothing.
func (w *Window) ProposeNudges() map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	nudges := make(map[string]float64)
	for name, window := range w.obs {
		var pos, neg []float64
		for _, o := range window {
			if o.positive {
				pos = append(pos, o.share)
			} else {
				neg = append(neg, o.share)
			}
		}
		if len(pos) < w.minObservations || len(neg) < w.minObservations {
			continue
		}

		gap := stat.Mean(pos, nil) - stat.Mean(neg, nil)
		switch {
		case gap > w.gapThreshold:
			nudges[name] = w.step
		case gap < -w.gapThreshold:
			nudges[name] = -w.step
		}
	}
	return nudges
}
