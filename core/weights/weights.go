// Package weights owns the learned per-signal weights: a versioned,
// copy-on-write snapshot published atomically. The feedback learner is the
// single writer; scorers read snapshots and never block on an update in
// progress. Weights persist across restarts through a pluggable store and are
// never reset except by explicit operator action.
package weights

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adalundhe/loupe/core/confidence"
)

// =============================================================================
// Config
// =============================================================================

// Config bounds weight updates.
type Config struct {
	// MaxStep caps the magnitude of a single nudge to one signal.
	MaxStep float64

	// ProvisionalFeedback and WarmFeedback are the feedback counts at which
	// the snapshot's calibration status ratchets up.
	ProvisionalFeedback int
	WarmFeedback        int
}

// DefaultConfig returns the standard update bounds.
func DefaultConfig() Config {
	return Config{
		MaxStep:             0.02,
		ProvisionalFeedback: 5,
		WarmFeedback:        25,
	}
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable view of the learned weights. Weights are
// normalized to sum 1 over all signals.
type Snapshot struct {
	Version       uint64
	UpdatedAt     time.Time
	FeedbackCount int

	weights map[string]float64
	status  confidence.CalibrationStatus
}

// Weight returns the weight for a signal name.
func (s *Snapshot) Weight(name string) (float64, bool) {
	w, ok := s.weights[name]
	return w, ok
}

// Signals returns the signal names in sorted order.
func (s *Snapshot) Signals() []string {
	names := make([]string, 0, len(s.weights))
	for name := range s.weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map returns a copy of the weight map.
func (s *Snapshot) Map() map[string]float64 {
	out := make(map[string]float64, len(s.weights))
	for name, w := range s.weights {
		out[name] = w
	}
	return out
}

// Status reports how calibrated these weights are, driven by how much
// feedback has shaped them.
func (s *Snapshot) Status() confidence.CalibrationStatus {
	return s.status
}

// =============================================================================
// LearnedWeights
// =============================================================================

// Store persists weight snapshots across restarts.
type Store interface {
	SaveWeights(ctx context.Context, version uint64, weights map[string]float64, feedbackCount int) error
	LoadWeights(ctx context.Context) (version uint64, weights map[string]float64, feedbackCount int, ok bool, err error)
}

// LearnedWeights holds the mutable weight state behind atomic snapshots.
type LearnedWeights struct {
	current atomic.Pointer[Snapshot]
	config  Config
	store   Store
	logger  *slog.Logger

	// writeMu serializes writers; readers go through the atomic pointer.
	writeMu sync.Mutex
}

// New creates LearnedWeights seeded from the initial weight map.
func New(initial map[string]float64) *LearnedWeights {
	return NewWithOptions(initial, DefaultConfig(), nil, nil)
}

// NewWithOptions creates LearnedWeights with explicit bounds, persistence,
// and logging.
func NewWithOptions(initial map[string]float64, cfg Config, store Store, logger *slog.Logger) *LearnedWeights {
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = DefaultConfig().MaxStep
	}
	if cfg.WarmFeedback <= 0 {
		cfg.WarmFeedback = DefaultConfig().WarmFeedback
	}
	if cfg.ProvisionalFeedback <= 0 {
		cfg.ProvisionalFeedback = DefaultConfig().ProvisionalFeedback
	}
	if logger == nil {
		logger = slog.Default()
	}
	lw := &LearnedWeights{
		config: cfg,
		store:  store,
		logger: logger,
	}
	lw.current.Store(lw.buildSnapshot(1, normalize(initial), 0))
	return lw
}

// Snapshot returns the current immutable snapshot.
func (lw *LearnedWeights) Snapshot() *Snapshot {
	return lw.current.Load()
}

// Nudge applies a bounded delta to one signal's weight and renormalizes.
// Returns the published snapshot.
func (lw *LearnedWeights) Nudge(name string, delta float64) (*Snapshot, error) {
	return lw.ApplyNudges(map[string]float64{name: delta})
}

// ApplyNudges applies bounded deltas to several signals in one atomic
// publication. Unknown signal names are rejected; weights floor at zero
// before renormalization so one signal cannot push another negative.
func (lw *LearnedWeights) ApplyNudges(deltas map[string]float64) (*Snapshot, error) {
	lw.writeMu.Lock()
	defer lw.writeMu.Unlock()

	prev := lw.current.Load()
	next := prev.Map()
	for name, delta := range deltas {
		if _, ok := next[name]; !ok {
			return nil, fmt.Errorf("unknown signal %q", name)
		}
		if delta > lw.config.MaxStep {
			delta = lw.config.MaxStep
		}
		if delta < -lw.config.MaxStep {
			delta = -lw.config.MaxStep
		}
		w := next[name] + delta
		if w < 0 {
			w = 0
		}
		next[name] = w
	}

	snap := lw.buildSnapshot(prev.Version+1, normalize(next), prev.FeedbackCount)
	lw.current.Store(snap)
	return snap, nil
}

// RecordFeedback counts consumed feedback events toward calibration status.
func (lw *LearnedWeights) RecordFeedback(events int) *Snapshot {
	lw.writeMu.Lock()
	defer lw.writeMu.Unlock()

	prev := lw.current.Load()
	snap := lw.buildSnapshot(prev.Version+1, prev.Map(), prev.FeedbackCount+events)
	lw.current.Store(snap)
	return snap
}

// Reset replaces the weights wholesale. Operator action only.
func (lw *LearnedWeights) Reset(initial map[string]float64) *Snapshot {
	lw.writeMu.Lock()
	defer lw.writeMu.Unlock()

	prev := lw.current.Load()
	snap := lw.buildSnapshot(prev.Version+1, normalize(initial), 0)
	lw.current.Store(snap)
	lw.logger.Info("learned weights reset", slog.Uint64("version", snap.Version))
	return snap
}

// Flush persists the current snapshot through the store, when configured.
func (lw *LearnedWeights) Flush(ctx context.Context) error {
	if lw.store == nil {
		return nil
	}
	snap := lw.current.Load()
	return lw.store.SaveWeights(ctx, snap.Version, snap.Map(), snap.FeedbackCount)
}

// LoadPersisted adopts persisted weights when the store has them, keeping the
// seed weights otherwise.
func (lw *LearnedWeights) LoadPersisted(ctx context.Context) error {
	if lw.store == nil {
		return nil
	}
	version, persisted, feedbackCount, ok, err := lw.store.LoadWeights(ctx)
	if err != nil {
		return fmt.Errorf("load persisted weights: %w", err)
	}
	if !ok {
		return nil
	}

	lw.writeMu.Lock()
	defer lw.writeMu.Unlock()
	if version == 0 {
		version = lw.current.Load().Version + 1
	}
	lw.current.Store(lw.buildSnapshot(version, normalize(persisted), feedbackCount))
	lw.logger.Info("learned weights loaded",
		slog.Uint64("version", version),
		slog.Int("feedback_count", feedbackCount),
	)
	return nil
}

func (lw *LearnedWeights) buildSnapshot(version uint64, weights map[string]float64, feedbackCount int) *Snapshot {
	status := confidence.CalibrationUncalibrated
	switch {
	case feedbackCount >= lw.config.WarmFeedback:
		status = confidence.CalibrationCalibrated
	case feedbackCount >= lw.config.ProvisionalFeedback:
		status = confidence.CalibrationProvisional
	}
	return &Snapshot{
		Version:       version,
		UpdatedAt:     time.Now().UTC(),
		FeedbackCount: feedbackCount,
		weights:       weights,
		status:        status,
	}
}

// normalize scales weights to sum 1; an all-zero or empty map becomes a
// uniform distribution over its keys.
func normalize(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	sum := 0.0
	for name, w := range weights {
		if w < 0 {
			w = 0
		}
		out[name] = w
		sum += w
	}
	if len(out) == 0 {
		return out
	}
	if sum == 0 {
		uniform := 1.0 / float64(len(out))
		for name := range out {
			out[name] = uniform
		}
		return out
	}
	for name := range out {
		out[name] /= sum
	}
	return out
}
