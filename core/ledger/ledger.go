// Package ledger implements the engine's two append-only logs: the confidence
// ledger (the only source of truth for why an entity's confidence is what it
// is) and the feedback token store. Cold storage is a pure-Go SQLite database;
// a ristretto hot tier fronts the current per-entity confidence reads the
// scorer path performs on every query.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	loupeerrors "github.com/adalundhe/loupe/core/errors"
)

// Hot tier sizing. Entries are tiny; the cache exists to keep per-query
// confidence lookups off SQLite, not to hold the ledger.
const (
	defaultNumCounters = 100_000
	defaultMaxCost     = 8 << 20
	defaultBufferItems = 64

	confidenceEntryCost = 64
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ledger (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    entity_id       TEXT NOT NULL,
    event_type      TEXT NOT NULL,
    delta           REAL NOT NULL,
    evidence        TEXT NOT NULL,
    resulting_value REAL NOT NULL,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_entity ON ledger(entity_id);

CREATE TABLE IF NOT EXISTS tokens (
    token       TEXT PRIMARY KEY,
    candidates  TEXT NOT NULL,
    issued_at   TEXT NOT NULL,
    expires_at  TEXT NOT NULL,
    consumed_at TEXT
);

CREATE TABLE IF NOT EXISTS entity_confidence (
    entity_id  TEXT PRIMARY KEY,
    value      REAL NOT NULL,
    updated_at TEXT NOT NULL
);
`

// =============================================================================
// EventType
// =============================================================================

// EventType classifies a ledger entry.
type EventType string

const (
	// EventFeedbackPositive records an upward confidence move from a
	// relevant rating.
	EventFeedbackPositive EventType = "feedback_positive"

	// EventFeedbackNegative records a downward confidence move from a
	// not-relevant rating.
	EventFeedbackNegative EventType = "feedback_negative"

	// EventMissingExpected records an entity a user expected in results but
	// did not receive. Feeds corpus-gap reporting; carries no delta.
	EventMissingExpected EventType = "missing_expected"
)

// ValidEventTypes returns all valid EventType values.
func ValidEventTypes() []EventType {
	return []EventType{EventFeedbackPositive, EventFeedbackNegative, EventMissingExpected}
}

// IsValid returns true if the event type is a recognized value.
func (t EventType) IsValid() bool {
	switch t {
	case EventFeedbackPositive, EventFeedbackNegative, EventMissingExpected:
		return true
	default:
		return false
	}
}

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// =============================================================================
// Entry
// =============================================================================

// Entry is one append-only audit record. Entries are never mutated or
// deleted.
type Entry struct {
	ID             string    `json:"id"`
	EntityID       string    `json:"entity_id"`
	EventType      EventType `json:"event_type"`
	Delta          float64   `json:"delta"`
	Evidence       string    `json:"evidence"`
	ResultingValue float64   `json:"resulting_value"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the entry's field invariants.
func (e *Entry) Validate() error {
	if e.EntityID == "" {
		return fmt.Errorf("ledger entry requires an entity id")
	}
	if !e.EventType.IsValid() {
		return fmt.Errorf("ledger entry %s: invalid event type %q", e.EntityID, e.EventType)
	}
	if e.ResultingValue < 0 || e.ResultingValue > 1 {
		return fmt.Errorf("ledger entry %s: resulting value %v outside [0,1]",
			e.EntityID, e.ResultingValue)
	}
	return nil
}

// =============================================================================
// Ledger
// =============================================================================

// Ledger is the combined confidence ledger and token store handle. Appends
// serialize in SQLite; reads never block on appends (WAL mode).
type Ledger struct {
	db     *sql.DB
	cache  *ristretto.Cache
	path   string
	logger *slog.Logger
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Open opens (creating if needed) the ledger database, applies the schema,
// and verifies ledger integrity. A corrupt ledger is fatal: the ledger is the
// only source of truth for stored confidence and cannot be silently rebuilt.
func Open(path string, opts ...Option) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(250)")
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger cache: %w", err)
	}

	l := &Ledger{
		db:     db,
		cache:  cache,
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.VerifyIntegrity(context.Background()); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the database handle and the cache.
func (l *Ledger) Close() error {
	l.cache.Close()
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// Append validates and appends one entry, assigning its id and timestamp when
// unset, and publishes the entity's resulting confidence to the hot tier.
func (l *Ledger) Append(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := entry.Validate(); err != nil {
		return Entry{}, err
	}

	err := loupeerrors.Retry(ctx, func() error {
		return loupeerrors.ClassifyStorage(l.appendOnce(ctx, entry))
	})
	if err != nil {
		return Entry{}, err
	}

	// Invalidate rather than update: ristretto sets are buffered and may be
	// dropped, and a stale confidence is worse than a cold read.
	if entry.EventType != EventMissingExpected {
		l.cache.Del(confidenceKey(entry.EntityID))
	}
	return entry, nil
}

func (l *Ledger) appendOnce(ctx context.Context, entry Entry) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger (id, entity_id, event_type, delta, evidence, resulting_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EntityID, entry.EventType.String(), entry.Delta,
		entry.Evidence, entry.ResultingValue,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}

	if entry.EventType != EventMissingExpected {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_confidence (entity_id, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(entity_id) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			entry.EntityID, entry.ResultingValue,
			entry.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("update entity confidence: %w", err)
		}
	}
	return tx.Commit()
}

// EntityConfidence returns the entity's current stored confidence, hot tier
// first. ok is false when the entity has never received feedback.
func (l *Ledger) EntityConfidence(ctx context.Context, entityID string) (float64, bool, error) {
	if cached, hit := l.cache.Get(confidenceKey(entityID)); hit {
		if value, isFloat := cached.(float64); isFloat {
			return value, true, nil
		}
	}

	var value float64
	err := l.db.QueryRowContext(ctx,
		`SELECT value FROM entity_confidence WHERE entity_id = ?`, entityID).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, loupeerrors.ClassifyStorage(fmt.Errorf("read entity confidence: %w", err))
	}

	l.cache.Set(confidenceKey(entityID), value, confidenceEntryCost)
	return value, true, nil
}

// Entries returns the entity's audit trail, newest first, up to limit.
func (l *Ledger) Entries(ctx context.Context, entityID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, entity_id, event_type, delta, evidence, resulting_value, created_at
		FROM ledger WHERE entity_id = ?
		ORDER BY seq DESC LIMIT ?`, entityID, limit)
	if err != nil {
		return nil, loupeerrors.ClassifyStorage(fmt.Errorf("read ledger entries: %w", err))
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// EntryCount returns the number of ledger entries for the entity.
func (l *Ledger) EntryCount(ctx context.Context, entityID string) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger WHERE entity_id = ?`, entityID).Scan(&count)
	if err != nil {
		return 0, loupeerrors.ClassifyStorage(fmt.Errorf("count ledger entries: %w", err))
	}
	return count, nil
}

// VerifyIntegrity scans the ledger for structurally invalid rows. Any hit
// reports ErrCorruptLedger, which the engine treats as fatal at startup.
func (l *Ledger) VerifyIntegrity(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, entity_id, event_type, delta, evidence, resulting_value, created_at
		FROM ledger`)
	if err != nil {
		return loupeerrors.ClassifyStorage(fmt.Errorf("read ledger for verification: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return loupeerrors.Wrap(loupeerrors.ClassCorruptLedger, "unreadable ledger row", err)
		}
		if err := entry.Validate(); err != nil {
			return loupeerrors.Wrap(loupeerrors.ClassCorruptLedger, "invalid ledger row", err)
		}
	}
	if err := rows.Err(); err != nil {
		return loupeerrors.Wrap(loupeerrors.ClassCorruptLedger, "ledger scan failed", err)
	}
	return nil
}

// Stats summarizes the ledger for the stats surface.
type Stats struct {
	Entries       int    `json:"entries"`
	Tokens        int    `json:"tokens"`
	TrackedEntity int    `json:"tracked_entities"`
	Path          string `json:"path"`
}

// Stats reads the ledger's row counts.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Path: l.path}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger`).Scan(&st.Entries); err != nil {
		return st, fmt.Errorf("count ledger: %w", err)
	}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens`).Scan(&st.Tokens); err != nil {
		return st, fmt.Errorf("count tokens: %w", err)
	}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_confidence`).Scan(&st.TrackedEntity); err != nil {
		return st, fmt.Errorf("count tracked entities: %w", err)
	}
	return st, nil
}

// =============================================================================
// Internal helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry     Entry
		eventType string
		createdAt string
	)
	if err := row.Scan(&entry.ID, &entry.EntityID, &eventType, &entry.Delta,
		&entry.Evidence, &entry.ResultingValue, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scan ledger entry: %w", err)
	}
	entry.EventType = EventType(eventType)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		entry.CreatedAt = t
	}
	return entry, nil
}

func confidenceKey(entityID string) string {
	return "conf:" + entityID
}
