package engine

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/adalundhe/loupe/core/corpus"
	"github.com/adalundhe/loupe/core/history"
	"github.com/adalundhe/loupe/core/lexical"
	"github.com/adalundhe/loupe/core/semantic"
)

// embedBatchSize bounds one embedding round-trip during ingest.
const embedBatchSize = 64

// IngestOptions selects the ingest inputs.
type IngestOptions struct {
	// CorpusDir holds the extractor's entities.jsonl and edges.jsonl.
	CorpusDir string

	// RepoPath enables git-history enrichment; empty skips it.
	RepoPath string
}

// IngestReport summarizes one ingest run.
type IngestReport struct {
	Epoch          uint64        `json:"epoch"`
	Entities       int           `json:"entities"`
	Edges          int           `json:"edges"`
	CoChangeEdges  int           `json:"co_change_edges"`
	Embedded       int           `json:"embedded"`
	HistoryCommits int           `json:"history_commits"`
	SkippedRecords int           `json:"skipped_records"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Ingest loads the corpus, enriches it with git history, embeds entities,
// persists the snapshot, and publishes the new epoch. The previous epoch
// keeps serving until the swap; queries never observe a half-built corpus.
func (e *Engine) Ingest(ctx context.Context, opts IngestOptions) (*IngestReport, error) {
	start := time.Now()

	epoch := uint64(1)
	if prev, ok, err := e.store.Epoch(ctx); err == nil && ok {
		epoch = prev + 1
	}

	loader := corpus.NewLoaderWithTable(e.cfg.Edges, e.logger)
	loaded, err := loader.LoadDir(opts.CorpusDir, epoch)
	if err != nil {
		return nil, err
	}

	report := &IngestReport{
		Epoch:          epoch,
		SkippedRecords: loaded.Stats.Skipped,
	}

	if opts.RepoPath != "" {
		e.enrichFromHistory(ctx, loaded.Builder, opts.RepoPath, report)
	}

	embedded, err := e.embedEntities(ctx, loaded.Builder, loaded.Vectors)
	if err != nil {
		return nil, err
	}
	report.Embedded = embedded

	snap, err := loaded.Builder.Build()
	if err != nil {
		return nil, err
	}
	report.Entities = snap.EntityCount()
	report.Edges = snap.EdgeCount()

	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	ix, err := e.rebuildLexicalIndex(ctx, snap)
	if err != nil {
		return nil, err
	}

	semStore, err := e.rebuildVectorStore(snap, loaded.Vectors)
	if err != nil {
		_ = ix.Close()
		return nil, err
	}

	e.publish(snap, ix, semStore)

	if e.watcher != nil {
		paths := make([]string, 0, snap.EntityCount())
		seen := make(map[string]struct{})
		snap.ForEachEntity(func(entity *corpus.Entity) {
			if _, ok := seen[entity.Path]; ok {
				return
			}
			seen[entity.Path] = struct{}{}
			paths = append(paths, entity.Path)
		})
		e.watcher.SetBaseline(paths)
	}

	report.Elapsed = time.Since(start)
	e.logger.Info("corpus ingested",
		"epoch", report.Epoch,
		"entities", report.Entities,
		"edges", report.Edges,
		"co_change_edges", report.CoChangeEdges,
		"embedded", report.Embedded,
		"elapsed", report.Elapsed)
	return report, nil
}

// enrichFromHistory folds git churn and co-change pairs into the staged
// corpus. History failures degrade: the corpus indexes without it.
func (e *Engine) enrichFromHistory(ctx context.Context, builder *corpus.Builder, repoPath string, report *IngestReport) {
	summary, err := history.NewAnalyzer(repoPath, history.Options{}, e.logger).Analyze(ctx)
	if err != nil {
		if errors.Is(err, history.ErrNotGitRepo) {
			e.logger.Info("no git repository, indexing without history", "path", repoPath)
		} else {
			e.logger.Warn("history analysis failed, indexing without it", "error", err)
		}
		return
	}
	report.HistoryCommits = summary.CommitsWalked

	entities := builder.Entities()
	history.Enrich(entities, summary)

	byPath := make(map[string][]string, len(entities))
	for _, entity := range entities {
		byPath[entity.Path] = append(byPath[entity.Path], entity.ID)
	}
	for _, edge := range history.CoChangeEdges(summary, byPath, history.Options{}) {
		if err := builder.AddEdge(edge); err != nil {
			e.logger.Debug("co-change edge rejected", "edge", edge.Key(), "error", err)
			continue
		}
		report.CoChangeEdges++
	}
}

// embedEntities fills missing vectors through the embedder service and marks
// embedding presence on every staged entity. Extractor-supplied vectors are
// kept as-is.
func (e *Engine) embedEntities(ctx context.Context, builder *corpus.Builder, vectors map[string][]float32) (int, error) {
	var pending []*corpus.Entity
	for _, entity := range builder.Entities() {
		if _, ok := vectors[entity.ID]; ok {
			entity.HasEmbedding = true
			continue
		}
		pending = append(pending, entity)
	}

	embedded := 0
	for from := 0; from < len(pending); from += embedBatchSize {
		to := from + embedBatchSize
		if to > len(pending) {
			to = len(pending)
		}
		batch := pending[from:to]

		texts := make([]string, len(batch))
		for i, entity := range batch {
			texts[i] = embedText(entity)
		}
		out, err := e.embed.EmbedBatch(ctx, texts)
		if err != nil {
			return embedded, err
		}
		for i, entity := range batch {
			vectors[entity.ID] = out[i]
			entity.HasEmbedding = true
			embedded++
		}
	}
	return embedded, nil
}

// embedText renders the entity's embedding input: identifier, doc summary
// and path give the vector its lexical anchors.
func embedText(e *corpus.Entity) string {
	text := e.Name
	if e.Doc != "" {
		text += " " + e.Doc
	}
	if e.Path != "" {
		text += " " + e.Path
	}
	return text
}

// rebuildLexicalIndex replaces the on-disk bleve index with the snapshot's
// entities.
func (e *Engine) rebuildLexicalIndex(ctx context.Context, snap *corpus.Snapshot) (*lexical.Index, error) {
	if err := os.RemoveAll(e.cfg.Store.IndexDir); err != nil {
		return nil, err
	}
	ix, err := lexical.OpenIndex(e.cfg.Store.IndexDir)
	if err != nil {
		return nil, err
	}
	if err := ix.IndexSnapshot(ctx, snap); err != nil {
		_ = ix.Close()
		return nil, err
	}
	return ix, nil
}

// rebuildVectorStore replaces the mmap vector store with the epoch's
// vectors, in sorted entity order for deterministic slots.
func (e *Engine) rebuildVectorStore(snap *corpus.Snapshot, vectors map[string][]float32) (*semantic.Store, error) {
	dim := e.embed.Dimension()
	for _, v := range vectors {
		dim = len(v)
		break
	}
	if dim <= 0 || len(vectors) == 0 {
		return nil, nil
	}

	if err := os.Remove(e.cfg.Store.VectorFile); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	semStore, err := semantic.CreateStore(e.cfg.Store.VectorFile, dim, len(vectors))
	if err != nil {
		return nil, err
	}
	for _, id := range snap.EntityIDs() {
		vector, ok := vectors[id]
		if !ok || len(vector) != dim {
			continue
		}
		if _, err := semStore.Append(id, vector); err != nil {
			_ = semStore.Close()
			return nil, err
		}
	}
	if err := semStore.Sync(); err != nil {
		_ = semStore.Close()
		return nil, err
	}
	return semStore, nil
}
