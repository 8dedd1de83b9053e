package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// =============================================================================
// Loader
// =============================================================================

// Default corpus file names inside a corpus directory.
const (
	EntitiesFile = "entities.jsonl"
	EdgesFile    = "edges.jsonl"
)

// maxRecordBytes bounds a single JSONL record (1MB).
const maxRecordBytes = 1 << 20

// Loader reads pre-extracted corpus records (JSON lines) into a snapshot
// Builder. Invalid records are skipped with a warning rather than failing the
// whole ingest; the extractor upstream is not always trustworthy.
type Loader struct {
	table  ConfidenceTable
	logger *slog.Logger
}

// NewLoader creates a Loader with the default confidence table.
func NewLoader() *Loader {
	return NewLoaderWithTable(DefaultConfidenceTable(), nil)
}

// NewLoaderWithTable creates a Loader with an explicit confidence table and
// logger.
func NewLoaderWithTable(table ConfidenceTable, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{table: table, logger: logger}
}

// LoadStats summarizes an ingest pass.
type LoadStats struct {
	Entities int      `json:"entities"`
	Edges    int      `json:"edges"`
	Vectors  int      `json:"vectors"`
	Skipped  int      `json:"skipped"`
	Warnings []string `json:"warnings,omitempty"`
}

// LoadResult is the outcome of loading a corpus: a Builder still open for
// history enrichment, the embedding vectors keyed by entity id, and stats.
type LoadResult struct {
	Builder *Builder
	Vectors map[string][]float32
	Stats   LoadStats
}

// entityRecord is the on-disk entity shape: an Entity plus an optional
// pre-computed embedding vector.
type entityRecord struct {
	Entity
	Embedding []float32 `json:"embedding,omitempty"`
}

// edgeRecord is the on-disk edge shape. Confidence is never read from disk;
// it is recomputed from provenance so the table constants stay authoritative.
type edgeRecord struct {
	SourceID   string     `json:"source_id"`
	TargetID   string     `json:"target_id"`
	Type       EdgeType   `json:"edge_type"`
	Weight     float64    `json:"weight"`
	Provenance Provenance `json:"provenance"`
}

// LoadDir loads entities.jsonl and edges.jsonl from a corpus directory.
func (l *Loader) LoadDir(dir string, epoch uint64) (*LoadResult, error) {
	entFile, err := os.Open(filepath.Join(dir, EntitiesFile))
	if err != nil {
		return nil, fmt.Errorf("open corpus entities: %w", err)
	}
	defer entFile.Close()

	edgeFile, err := os.Open(filepath.Join(dir, EdgesFile))
	if err != nil {
		return nil, fmt.Errorf("open corpus edges: %w", err)
	}
	defer edgeFile.Close()

	return l.Load(entFile, edgeFile, epoch)
}

// Load reads entity and edge streams into a fresh Builder.
func (l *Loader) Load(entities, edges io.Reader, epoch uint64) (*LoadResult, error) {
	result := &LoadResult{
		Builder: NewBuilderWithTable(epoch, l.table),
		Vectors: make(map[string][]float32),
	}

	if err := l.loadEntities(entities, result); err != nil {
		return nil, err
	}
	if err := l.loadEdges(edges, result); err != nil {
		return nil, err
	}

	l.logger.Info("corpus loaded",
		slog.Uint64("epoch", epoch),
		slog.Int("entities", result.Stats.Entities),
		slog.Int("edges", result.Stats.Edges),
		slog.Int("vectors", result.Stats.Vectors),
		slog.Int("skipped", result.Stats.Skipped),
	)
	return result, nil
}

func (l *Loader) loadEntities(r io.Reader, result *LoadResult) error {
	return l.scanLines(r, "entity", func(line []byte, lineNo int) {
		var rec entityRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			l.skip(result, fmt.Sprintf("entity line %d: %v", lineNo, err))
			return
		}
		if len(rec.Embedding) > 0 {
			rec.Entity.HasEmbedding = true
		}
		ent := rec.Entity
		if err := result.Builder.AddEntity(&ent); err != nil {
			l.skip(result, fmt.Sprintf("entity line %d: %v", lineNo, err))
			return
		}
		result.Stats.Entities++
		if len(rec.Embedding) > 0 {
			result.Vectors[ent.ID] = rec.Embedding
			result.Stats.Vectors++
		}
	})
}

func (l *Loader) loadEdges(r io.Reader, result *LoadResult) error {
	return l.scanLines(r, "edge", func(line []byte, lineNo int) {
		var rec edgeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			l.skip(result, fmt.Sprintf("edge line %d: %v", lineNo, err))
			return
		}
		edge := &Edge{
			SourceID:   rec.SourceID,
			TargetID:   rec.TargetID,
			Type:       rec.Type,
			Weight:     rec.Weight,
			Provenance: rec.Provenance,
		}
		if err := result.Builder.AddEdge(edge); err != nil {
			l.skip(result, fmt.Sprintf("edge line %d: %v", lineNo, err))
			return
		}
		result.Stats.Edges++
	})
}

// scanLines applies fn to every non-empty line.
func (l *Loader) scanLines(r io.Reader, what string, fn func(line []byte, lineNo int)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line, lineNo)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s records: %w", what, err)
	}
	return nil
}

func (l *Loader) skip(result *LoadResult, warning string) {
	result.Stats.Skipped++
	result.Stats.Warnings = append(result.Stats.Warnings, warning)
	l.logger.Warn("corpus record skipped", slog.String("reason", warning))
}
