// Package store persists the corpus and the learned weights in a SQLite
// database. The store is plumbing, not truth: queries never read it directly,
// they read the in-memory snapshot the engine rebuilt from it at startup or
// after ingest.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adalundhe/loupe/core/confidence"
	"github.com/adalundhe/loupe/core/corpus"
	loupeerrors "github.com/adalundhe/loupe/core/errors"
)

//go:embed schema.sql
var schemaSQL string

const (
	metaKeyEpoch = "epoch"

	// busyTimeoutMS is passed in the DSN so SQLite queues briefly behind a
	// writer before reporting SQLITE_BUSY; longer contention surfaces as
	// StorageLocked and goes through the jittered retry path.
	busyTimeoutMS = 250
)

// Store is the corpus database handle. Safe for concurrent use; SQLite's WAL
// mode serializes writers while readers proceed.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens (creating if needed) the corpus database at path and applies the
// embedded schema.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_synchronous=normal&_busy_timeout=%d",
		path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open corpus store: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply corpus schema: %w", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// =============================================================================
// Snapshot persistence
// =============================================================================

// SaveSnapshot replaces the stored corpus with the snapshot's contents in one
// transaction. Lock contention is retried with jittered backoff.
func (s *Store) SaveSnapshot(ctx context.Context, snap *corpus.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	return loupeerrors.Retry(ctx, func() error {
		return loupeerrors.ClassifyStorage(s.saveSnapshotOnce(ctx, snap))
	})
}

func (s *Store) saveSnapshotOnce(ctx context.Context, snap *corpus.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM entities", "DELETE FROM edges"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear previous epoch: %w", err)
		}
	}

	insertEntity, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (id, kind, name, path, line, domain_tags, owner, doc, churn, has_embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare entity insert: %w", err)
	}
	defer insertEntity.Close()

	var entityErr error
	snap.ForEachEntity(func(e *corpus.Entity) {
		if entityErr != nil {
			return
		}
		tags, _ := json.Marshal(e.DomainTags)
		churn, _ := json.Marshal(e.Churn)
		_, entityErr = insertEntity.ExecContext(ctx,
			e.ID, e.Kind.String(), e.Name, e.Path, e.Line,
			string(tags), e.Owner, e.Doc, string(churn), boolToInt(e.HasEmbedding))
	})
	if entityErr != nil {
		return fmt.Errorf("insert entity: %w", entityErr)
	}

	insertEdge, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (source_id, target_id, edge_type, weight, confidence, provenance, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer insertEdge.Close()

	for _, id := range snap.EntityIDs() {
		for _, e := range snap.OutEdges(id) {
			conf, err := json.Marshal(e.Confidence)
			if err != nil {
				return fmt.Errorf("encode edge confidence %s: %w", e.Key(), err)
			}
			prov, _ := json.Marshal(e.Provenance)
			if _, err := insertEdge.ExecContext(ctx,
				e.SourceID, e.TargetID, e.Type.String(), e.Weight,
				string(conf), string(prov), e.ComputedAt.UTC().Format(time.RFC3339Nano)); err != nil {
				return fmt.Errorf("insert edge %s: %w", e.Key(), err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaKeyEpoch, strconv.FormatUint(snap.Epoch(), 10)); err != nil {
		return fmt.Errorf("record epoch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	s.logger.Info("corpus saved",
		slog.Uint64("epoch", snap.Epoch()),
		slog.Int("entities", snap.EntityCount()),
		slog.Int("edges", snap.EdgeCount()),
	)
	return nil
}

// LoadSnapshot rebuilds the stored corpus into a snapshot. Returns (nil, nil)
// when nothing has been indexed yet.
func (s *Store) LoadSnapshot(ctx context.Context) (*corpus.Snapshot, error) {
	epoch, ok, err := s.Epoch(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	builder := corpus.NewBuilder(epoch)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, path, line, domain_tags, owner, doc, churn, has_embedding
		FROM entities`)
	if err != nil {
		return nil, loupeerrors.ClassifyStorage(fmt.Errorf("load entities: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e            corpus.Entity
			kind         string
			tags, churn  sql.NullString
			owner, doc   sql.NullString
			hasEmbedding int
		)
		if err := rows.Scan(&e.ID, &kind, &e.Name, &e.Path, &e.Line,
			&tags, &owner, &doc, &churn, &hasEmbedding); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		parsed, valid := corpus.ParseEntityKind(kind)
		if !valid {
			return nil, fmt.Errorf("entity %s: stored kind %q invalid", e.ID, kind)
		}
		e.Kind = parsed
		e.Owner = owner.String
		e.Doc = doc.String
		e.HasEmbedding = hasEmbedding != 0
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &e.DomainTags); err != nil {
				return nil, fmt.Errorf("entity %s: decode domain tags: %w", e.ID, err)
			}
		}
		if churn.Valid && churn.String != "" {
			if err := json.Unmarshal([]byte(churn.String), &e.Churn); err != nil {
				return nil, fmt.Errorf("entity %s: decode churn: %w", e.ID, err)
			}
		}
		if err := builder.AddEntity(&e); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}

	if err := s.loadEdges(ctx, builder); err != nil {
		return nil, err
	}
	return builder.Build()
}

func (s *Store) loadEdges(ctx context.Context, builder *corpus.Builder) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, edge_type, weight, confidence, provenance, computed_at
		FROM edges`)
	if err != nil {
		return loupeerrors.ClassifyStorage(fmt.Errorf("load edges: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e          corpus.Edge
			edgeType   string
			conf, prov string
			computedAt string
		)
		if err := rows.Scan(&e.SourceID, &e.TargetID, &edgeType, &e.Weight,
			&conf, &prov, &computedAt); err != nil {
			return fmt.Errorf("scan edge: %w", err)
		}
		parsed, valid := corpus.ParseEdgeType(edgeType)
		if !valid {
			return fmt.Errorf("edge %s->%s: stored type %q invalid", e.SourceID, e.TargetID, edgeType)
		}
		e.Type = parsed

		var cv confidence.ConfidenceValue
		if err := json.Unmarshal([]byte(conf), &cv); err != nil {
			return fmt.Errorf("edge %s: decode confidence: %w", e.Key(), err)
		}
		e.Confidence = cv
		if err := json.Unmarshal([]byte(prov), &e.Provenance); err != nil {
			return fmt.Errorf("edge %s: decode provenance: %w", e.Key(), err)
		}
		if t, err := time.Parse(time.RFC3339Nano, computedAt); err == nil {
			e.ComputedAt = t
		}
		if err := builder.AddEdge(&e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Epoch reports the last saved indexing epoch.
func (s *Store) Epoch(ctx context.Context) (uint64, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, metaKeyEpoch).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, loupeerrors.ClassifyStorage(fmt.Errorf("read epoch: %w", err))
	}
	epoch, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("stored epoch %q invalid: %w", value, err)
	}
	return epoch, true, nil
}

// =============================================================================
// Learned weights persistence (implements weights.Store)
// =============================================================================

// SaveWeights persists the weight snapshot, replacing the previous version.
func (s *Store) SaveWeights(ctx context.Context, version uint64, weightMap map[string]float64, feedbackCount int) error {
	encoded, err := json.Marshal(weightMap)
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	return loupeerrors.Retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO learned_weights (id, version, weights, feedback_count, updated_at)
			VALUES (1, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				version = excluded.version,
				weights = excluded.weights,
				feedback_count = excluded.feedback_count,
				updated_at = excluded.updated_at`,
			version, string(encoded), feedbackCount, time.Now().UTC().Format(time.RFC3339Nano))
		return loupeerrors.ClassifyStorage(err)
	})
}

// LoadWeights reads the persisted weight snapshot; ok is false when none has
// been saved.
func (s *Store) LoadWeights(ctx context.Context) (uint64, map[string]float64, int, bool, error) {
	var (
		version       uint64
		encoded       string
		feedbackCount int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, weights, feedback_count FROM learned_weights WHERE id = 1`).
		Scan(&version, &encoded, &feedbackCount)
	if err == sql.ErrNoRows {
		return 0, nil, 0, false, nil
	}
	if err != nil {
		return 0, nil, 0, false, loupeerrors.ClassifyStorage(fmt.Errorf("read weights: %w", err))
	}

	weightMap := make(map[string]float64)
	if err := json.Unmarshal([]byte(encoded), &weightMap); err != nil {
		return 0, nil, 0, false, fmt.Errorf("decode weights: %w", err)
	}
	return version, weightMap, feedbackCount, true, nil
}

// =============================================================================
// Stats
// =============================================================================

// Stats summarizes the stored corpus for the stats surface.
type Stats struct {
	Epoch    uint64 `json:"epoch"`
	Entities int    `json:"entities"`
	Edges    int    `json:"edges"`
	Path     string `json:"path"`
}

// Stats reads the store's row counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Path: s.path}
	epoch, _, err := s.Epoch(ctx)
	if err != nil {
		return st, err
	}
	st.Epoch = epoch
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&st.Entities); err != nil {
		return st, fmt.Errorf("count entities: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&st.Edges); err != nil {
		return st, fmt.Errorf("count edges: %w", err)
	}
	return st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
