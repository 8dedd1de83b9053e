// Package config holds the engine's static configuration: loaded at startup,
// published as an atomic snapshot, never mutated in place.
package config

import (
	"fmt"
	"time"

	"github.com/adalundhe/loupe/core/corpus"
)

// DefaultPath is the project-local configuration file.
const DefaultPath = "loupe.yaml"

// Config is the root configuration document.
type Config struct {
	Engine    EngineConfig           `yaml:"engine"`
	Retrieval RetrievalConfig        `yaml:"retrieval"`
	Signals   SignalsConfig          `yaml:"signals"`
	Edges     corpus.ConfidenceTable `yaml:"edge_confidence_table"`
	Feedback  FeedbackConfig         `yaml:"feedback"`
	Store     StoreConfig            `yaml:"store"`
	Embed     EmbedConfig            `yaml:"embed"`
	Watch     WatchConfig            `yaml:"watch"`
	Cache     CacheConfig            `yaml:"cache"`
}

// EngineConfig sizes the worker pool and background tasks. Durations are
// expressed in milliseconds in the file to keep the schema transport-friendly.
type EngineConfig struct {
	// Workers is the fixed size of the retrieval worker pool.
	Workers int `yaml:"workers"`

	// QueueDepth bounds pending requests before callers block.
	QueueDepth int `yaml:"queue_depth"`

	// ChannelTimeoutMS bounds each retrieval channel per query.
	ChannelTimeoutMS int64 `yaml:"channel_timeout_ms"`

	// DefaultDeadlineMS applies when a request carries no deadline.
	DefaultDeadlineMS int64 `yaml:"default_deadline_ms"`

	// AuthorityIntervalMS schedules background authority recomputation.
	AuthorityIntervalMS int64 `yaml:"authority_interval_ms"`
}

// ChannelTimeout returns the per-channel timeout as a duration.
func (c EngineConfig) ChannelTimeout() time.Duration {
	return time.Duration(c.ChannelTimeoutMS) * time.Millisecond
}

// DefaultDeadline returns the default request deadline as a duration.
func (c EngineConfig) DefaultDeadline() time.Duration {
	return time.Duration(c.DefaultDeadlineMS) * time.Millisecond
}

// AuthorityInterval returns the authority recompute cadence as a duration.
func (c EngineConfig) AuthorityInterval() time.Duration {
	return time.Duration(c.AuthorityIntervalMS) * time.Millisecond
}

// RetrievalConfig tunes the three retrieval channels and the ranker.
type RetrievalConfig struct {
	// SemanticThreshold gates the semantic channel: neighbors below this
	// cosine similarity contribute nothing.
	SemanticThreshold float64 `yaml:"semantic_threshold"`

	// MaxHops bounds graph expansion from seed entities.
	MaxHops int `yaml:"max_hops"`

	// LexicalK and SemanticK are per-channel candidate counts at depth L1;
	// deeper requests scale them.
	LexicalK  int `yaml:"lexical_k"`
	SemanticK int `yaml:"semantic_k"`

	// MaxResults caps the response pack count when the request does not.
	MaxResults int `yaml:"max_results"`

	// FallbackCeiling caps combined confidence when every channel came back
	// empty. The single most consistently observed failure class is a
	// fallback result reported at genuine-match confidence.
	FallbackCeiling float64 `yaml:"fallback_ceiling"`

	// NeighborBoost multiplies direct caller/callee candidate scores, once.
	NeighborBoost float64 `yaml:"neighbor_boost"`

	// PathPenaltyBase is the per-hop path confidence decay (0.9 means a
	// hop multiplies path confidence by 0.9).
	PathPenaltyBase float64 `yaml:"path_penalty_base"`
}

// SignalsConfig seeds the learned signal weights.
type SignalsConfig struct {
	// InitialWeights maps signal name to starting weight. Normalized to
	// sum 1 at load.
	InitialWeights map[string]float64 `yaml:"signal_weights_initial"`
}

// FeedbackConfig tunes the feedback learner.
type FeedbackConfig struct {
	// TokenTTLMS is the feedback token lifetime.
	TokenTTLMS int64 `yaml:"feedback_token_ttl_ms"`

	// ConfidenceFloor and ConfidenceCeiling clamp every stored confidence.
	ConfidenceFloor   float64 `yaml:"confidence_floor"`
	ConfidenceCeiling float64 `yaml:"confidence_ceiling"`

	// PositiveDelta and NegativeDelta are the update policy magnitudes.
	// Negative is deliberately larger.
	PositiveDelta float64 `yaml:"positive_delta"`
	NegativeDelta float64 `yaml:"negative_delta"`

	// WindowSize bounds the rolling per-signal observation window.
	WindowSize int `yaml:"window_size"`

	// NudgeStep bounds a single learned-weight adjustment.
	NudgeStep float64 `yaml:"nudge_step"`

	// NudgeMinObservations gates weight nudges until the window has
	// evidence.
	NudgeMinObservations int `yaml:"nudge_min_observations"`

	// NudgeGapThreshold is the mean contribution gap that counts as
	// systematic over/under-weighting.
	NudgeGapThreshold float64 `yaml:"nudge_gap_threshold"`
}

// TokenTTL returns the token lifetime as a duration.
func (c FeedbackConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMS) * time.Millisecond
}

// StoreConfig locates the on-disk state.
type StoreConfig struct {
	// Dir is the state directory; the individual paths default under it.
	Dir string `yaml:"dir"`

	// CorpusDB is the entity/edge/weights SQLite database.
	CorpusDB string `yaml:"corpus_db"`

	// LedgerDB is the feedback ledger and token SQLite database.
	LedgerDB string `yaml:"ledger_db"`

	// IndexDir is the lexical index directory.
	IndexDir string `yaml:"index_dir"`

	// VectorFile is the flat embedding vector file.
	VectorFile string `yaml:"vector_file"`
}

// EmbedConfig selects and tunes the embedding provider.
type EmbedConfig struct {
	// Provider is one of openai, gemini, onnx, hash.
	Provider string `yaml:"provider"`

	// Model names the provider model, empty for the provider default.
	Model string `yaml:"model"`

	// Dimensions is the expected vector width.
	Dimensions int `yaml:"dimensions"`

	// TimeoutMS bounds a single remote embed call.
	TimeoutMS int64 `yaml:"timeout_ms"`

	// CacheSize bounds the embedding LRU cache (entries).
	CacheSize int `yaml:"cache_size"`

	// CredentialsFile is the encrypted API key store.
	CredentialsFile string `yaml:"credentials_file"`

	// ONNXDir caches downloaded local models.
	ONNXDir string `yaml:"onnx_dir"`
}

// Timeout returns the embed call timeout as a duration.
func (c EmbedConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// WatchConfig tunes the corpus staleness watcher.
type WatchConfig struct {
	// Enabled turns filesystem watching on.
	Enabled bool `yaml:"enabled"`

	// Root is the watched tree; empty disables watching.
	Root string `yaml:"root"`

	// DebounceMS coalesces bursts of filesystem events.
	DebounceMS int64 `yaml:"debounce_ms"`
}

// Debounce returns the event debounce as a duration.
func (c WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// CacheConfig sizes the query result cache.
type CacheConfig struct {
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items"`
	TTLSeconds  int64 `yaml:"ttl_seconds"`
}

// TTL returns the cache entry lifetime as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// DefaultConfig returns the complete default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Workers:             8,
			QueueDepth:          64,
			ChannelTimeoutMS:    2_000,
			DefaultDeadlineMS:   5_000,
			AuthorityIntervalMS: 300_000,
		},
		Retrieval: RetrievalConfig{
			SemanticThreshold: 0.35,
			MaxHops:           2,
			LexicalK:          20,
			SemanticK:         20,
			MaxResults:        10,
			FallbackCeiling:   0.40,
			NeighborBoost:     1.25,
			PathPenaltyBase:   0.9,
		},
		Signals: SignalsConfig{
			InitialWeights: map[string]float64{
				"semantic_similarity":  0.30,
				"lexical_match":        0.25,
				"structural_proximity": 0.10,
				"co_change":            0.05,
				"recency":              0.05,
				"domain_tag":           0.05,
				"ownership":            0.03,
				"dependency_distance":  0.05,
				"hotspot":              0.04,
				"directory_affinity":   0.03,
				"name_salience":        0.05,
			},
		},
		Edges: corpus.DefaultConfidenceTable(),
		Feedback: FeedbackConfig{
			TokenTTLMS:           86_400_000,
			ConfidenceFloor:      0.10,
			ConfidenceCeiling:    0.95,
			PositiveDelta:        0.05,
			NegativeDelta:        0.10,
			WindowSize:           50,
			NudgeStep:            0.02,
			NudgeMinObservations: 10,
			NudgeGapThreshold:    0.15,
		},
		Store: StoreConfig{
			Dir:        ".loupe",
			CorpusDB:   ".loupe/corpus.db",
			LedgerDB:   ".loupe/ledger.db",
			IndexDir:   ".loupe/index.bleve",
			VectorFile: ".loupe/vectors.bin",
		},
		Embed: EmbedConfig{
			Provider:        "hash",
			Dimensions:      256,
			TimeoutMS:       10_000,
			CacheSize:       4_096,
			CredentialsFile: ".loupe/credentials.enc",
			ONNXDir:         ".loupe/models",
		},
		Watch: WatchConfig{
			Enabled:    false,
			DebounceMS: 500,
		},
		Cache: CacheConfig{
			NumCounters: 100_000,
			MaxCost:     64 << 20,
			BufferItems: 64,
			TTLSeconds:  300,
		},
	}
}

// Validate checks cross-field invariants the schema cannot express.
func (c *Config) Validate() error {
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive")
	}
	if c.Engine.ChannelTimeoutMS <= 0 {
		return fmt.Errorf("engine.channel_timeout_ms must be positive")
	}
	if c.Retrieval.SemanticThreshold < 0 || c.Retrieval.SemanticThreshold > 1 {
		return fmt.Errorf("retrieval.semantic_threshold outside [0,1]")
	}
	if c.Retrieval.MaxHops < 1 {
		return fmt.Errorf("retrieval.max_hops must be at least 1")
	}
	if c.Retrieval.FallbackCeiling <= 0 || c.Retrieval.FallbackCeiling > 1 {
		return fmt.Errorf("retrieval.fallback_ceiling outside (0,1]")
	}
	if c.Retrieval.PathPenaltyBase <= 0 || c.Retrieval.PathPenaltyBase >= 1 {
		return fmt.Errorf("retrieval.path_penalty_base must lie in (0,1)")
	}
	if c.Feedback.ConfidenceFloor < 0 || c.Feedback.ConfidenceCeiling > 1 ||
		c.Feedback.ConfidenceFloor >= c.Feedback.ConfidenceCeiling {
		return fmt.Errorf("feedback confidence bounds invalid: floor=%v ceiling=%v",
			c.Feedback.ConfidenceFloor, c.Feedback.ConfidenceCeiling)
	}
	if c.Feedback.PositiveDelta <= 0 || c.Feedback.NegativeDelta <= 0 {
		return fmt.Errorf("feedback deltas must be positive magnitudes")
	}
	if c.Feedback.NegativeDelta <= c.Feedback.PositiveDelta {
		return fmt.Errorf("feedback negative_delta must exceed positive_delta")
	}
	if c.Feedback.TokenTTLMS <= 0 {
		return fmt.Errorf("feedback.feedback_token_ttl_ms must be positive")
	}
	if len(c.Signals.InitialWeights) == 0 {
		return fmt.Errorf("signals.signal_weights_initial must not be empty")
	}
	for name, w := range c.Signals.InitialWeights {
		if w < 0 || w > 1 {
			return fmt.Errorf("signal weight %q outside [0,1]: %v", name, w)
		}
	}
	if err := c.Edges.Validate(); err != nil {
		return fmt.Errorf("edge_confidence_table: %w", err)
	}
	return nil
}
