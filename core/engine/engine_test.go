package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/loupe/core/config"
	"github.com/adalundhe/loupe/core/corpus"
	"github.com/adalundhe/loupe/core/embed"
	loupeerrors "github.com/adalundhe/loupe/core/errors"
	"github.com/adalundhe/loupe/core/feedback"
	"github.com/adalundhe/loupe/core/retriever"
)

// =============================================================================
// Fixtures
// =============================================================================

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Engine.Workers = 2
	cfg.Engine.QueueDepth = 8
	cfg.Store.Dir = dir
	cfg.Store.CorpusDB = filepath.Join(dir, "corpus.db")
	cfg.Store.LedgerDB = filepath.Join(dir, "ledger.db")
	cfg.Store.IndexDir = filepath.Join(dir, "index.bleve")
	cfg.Store.VectorFile = filepath.Join(dir, "vectors.bin")
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}

	svc := embed.NewService("hash", embed.NewHashEmbedder(64), nil)
	e, err := New(context.Background(), cfg, Options{Embedder: svc})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// writeCorpusDir lays out a small three-entity corpus: two auth functions
// joined by a verified call edge, plus an unrelated utility.
func writeCorpusDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	entities := []corpus.Entity{
		{
			ID:         "fn:auth/login.go:login",
			Kind:       corpus.KindFunction,
			Name:       "login",
			Path:       "auth/login.go",
			Line:       12,
			DomainTags: []string{"auth"},
			Doc:        "login authenticates user credentials against the account store",
		},
		{
			ID:         "fn:auth/validate.go:validateEmail",
			Kind:       corpus.KindFunction,
			Name:       "validateEmail",
			Path:       "auth/validate.go",
			Line:       8,
			DomainTags: []string{"auth"},
			Doc:        "validateEmail checks address syntax before account lookup",
		},
		{
			ID:   "fn:util/misc.go:formatBytes",
			Kind: corpus.KindFunction,
			Name: "formatBytes",
			Path: "util/misc.go",
			Line: 30,
			Doc:  "formatBytes renders a byte count for humans",
		},
	}
	edges := []map[string]any{
		{
			"source_id": "fn:auth/login.go:login",
			"target_id": "fn:auth/validate.go:validateEmail",
			"edge_type": "calls",
			"weight":    1.0,
			"provenance": map[string]any{
				"source":     "ast_verified",
				"exact_line": true,
			},
		},
	}

	writeJSONL(t, filepath.Join(dir, corpus.EntitiesFile), func(w func(any)) {
		for i := range entities {
			w(entities[i])
		}
	})
	writeJSONL(t, filepath.Join(dir, corpus.EdgesFile), func(w func(any)) {
		for _, e := range edges {
			w(e)
		}
	})
	return dir
}

func writeJSONL(t *testing.T, path string, fill func(w func(any))) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := json.NewEncoder(f)
	fill(func(v any) { require.NoError(t, enc.Encode(v)) })
	require.NoError(t, f.Close())
}

func ingest(t *testing.T, e *Engine, corpusDir string) *IngestReport {
	t.Helper()
	report, err := e.Ingest(context.Background(), IngestOptions{CorpusDir: corpusDir})
	require.NoError(t, err)
	return report
}

// =============================================================================
// Tests
// =============================================================================

func TestEngine_Query_BeforeIngest(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Query(context.Background(), retriever.Request{Intent: "login"})
	require.Error(t, err)
	assert.ErrorIs(t, err, loupeerrors.ErrInsufficientData)
}

func TestEngine_Query_InvalidRequest(t *testing.T) {
	e := newTestEngine(t, nil)
	ingest(t, e, writeCorpusDir(t))

	_, err := e.Query(context.Background(), retriever.Request{Intent: "   "})
	require.Error(t, err)
	assert.ErrorIs(t, err, loupeerrors.ErrInvalidArgument)
}

func TestEngine_IngestAndQuery(t *testing.T) {
	e := newTestEngine(t, nil)
	report := ingest(t, e, writeCorpusDir(t))

	assert.Equal(t, uint64(1), report.Epoch)
	assert.Equal(t, 3, report.Entities)
	assert.Equal(t, 1, report.Edges)
	assert.Equal(t, 3, report.Embedded)

	resp, err := e.Query(context.Background(), retriever.Request{Intent: "login"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Packs)

	top := resp.Packs[0]
	assert.Equal(t, "fn:auth/login.go:login", top.EntityID)
	assert.Equal(t, "login", top.Name)
	assert.Equal(t, "auth/login.go", top.Path)
	assert.NotEmpty(t, top.Explanation)
	assert.NotEmpty(t, resp.FeedbackToken)
	assert.Equal(t, uint64(1), resp.Epoch)
	assert.False(t, resp.Fallback)
	assert.Greater(t, resp.Confidence, 0.0)
}

func TestEngine_Ingest_BumpsEpoch(t *testing.T) {
	e := newTestEngine(t, nil)
	dir := writeCorpusDir(t)

	first := ingest(t, e, dir)
	second := ingest(t, e, dir)

	assert.Equal(t, uint64(1), first.Epoch)
	assert.Equal(t, uint64(2), second.Epoch)
	assert.Equal(t, uint64(2), e.Snapshot().Epoch())
}

func TestEngine_RestoreAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	e := newTestEngine(t, cfg)
	ingest(t, e, writeCorpusDir(t))
	require.NoError(t, e.Close())

	reopened := newTestEngine(t, cfg)
	require.NotNil(t, reopened.Snapshot())
	assert.Equal(t, uint64(1), reopened.Snapshot().Epoch())

	resp, err := reopened.Query(context.Background(), retriever.Request{Intent: "validateEmail"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Packs)
	assert.Equal(t, "fn:auth/validate.go:validateEmail", resp.Packs[0].EntityID)
}

func TestEngine_Query_FallbackIsCapped(t *testing.T) {
	e := newTestEngine(t, nil)
	ingest(t, e, writeCorpusDir(t))

	resp, err := e.Query(context.Background(), retriever.Request{
		Intent: "zzzqx wvvorp nothing matches this",
		Mode:   retriever.ModeLexical,
	})
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Contains(t, resp.CoverageGaps, retriever.GapNoSemanticMatch)
	require.NotEmpty(t, resp.Packs)
	assert.LessOrEqual(t, resp.Confidence, 0.40)
	for _, p := range resp.Packs {
		v, ok := p.Combined.Numeric()
		require.True(t, ok)
		assert.LessOrEqual(t, v, 0.40)
	}
}

func TestEngine_Query_DomainFilter(t *testing.T) {
	e := newTestEngine(t, nil)
	ingest(t, e, writeCorpusDir(t))

	resp, err := e.Query(context.Background(), retriever.Request{
		Intent:  "login validateEmail formatBytes",
		Filters: retriever.Filters{Domain: "auth"},
	})
	require.NoError(t, err)
	for _, p := range resp.Packs {
		assert.NotEqual(t, "fn:util/misc.go:formatBytes", p.EntityID)
	}
}

func TestEngine_Query_RepeatServesFreshToken(t *testing.T) {
	e := newTestEngine(t, nil)
	ingest(t, e, writeCorpusDir(t))

	req := retriever.Request{Intent: "login"}
	first, err := e.Query(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Query(context.Background(), req)
	require.NoError(t, err)

	// Same candidates either way the second serve was produced; the token
	// must differ so both serves stay independently rateable.
	require.NotEmpty(t, first.Packs)
	require.NotEmpty(t, second.Packs)
	assert.Equal(t, first.Packs[0].EntityID, second.Packs[0].EntityID)
	assert.NotEmpty(t, second.FeedbackToken)
	assert.NotEqual(t, first.FeedbackToken, second.FeedbackToken)
}

func TestEngine_FeedbackRoundTrip(t *testing.T) {
	e := newTestEngine(t, nil)
	ingest(t, e, writeCorpusDir(t))

	resp, err := e.Query(context.Background(), retriever.Request{Intent: "login"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.FeedbackToken)

	receipt, err := e.Feedback(context.Background(), feedback.Submission{
		Token: resp.FeedbackToken,
		Ratings: []feedback.Rating{
			{EntityID: resp.Packs[0].EntityID, Relevant: true, Usefulness: 1.0},
		},
	})
	require.NoError(t, err)
	assert.True(t, receipt.Accepted)
	assert.Equal(t, 1, receipt.Applied)

	// Replaying the consumed token is rejected, not an error.
	replay, err := e.Feedback(context.Background(), feedback.Submission{
		Token:   resp.FeedbackToken,
		Ratings: []feedback.Rating{{EntityID: resp.Packs[0].EntityID, Relevant: true, Usefulness: 1.0}},
	})
	require.NoError(t, err)
	assert.False(t, replay.Accepted)
	assert.Equal(t, feedback.ReasonTokenAlreadyConsumed, replay.Reason)
}

func TestEngine_Stats(t *testing.T) {
	e := newTestEngine(t, nil)
	ingest(t, e, writeCorpusDir(t))

	st, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Epoch)
	require.NotNil(t, st.Corpus)
	assert.Equal(t, 3, st.Corpus.Entities)
	assert.NotEmpty(t, st.Weights)
	assert.Equal(t, "hash", st.Embedder)
}

func TestEngine_Close_Idempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestPool_RunsSubmittedWork(t *testing.T) {
	p := newPool(2, 4)
	defer p.stop()

	ran := false
	err := p.run(context.Background(), func() { ran = true })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestPool_RejectsAfterContextCancel(t *testing.T) {
	p := newPool(1, 1)
	defer p.stop()

	block := make(chan struct{})
	_ = p.run(context.Background(), func() {})
	go p.run(context.Background(), func() { <-block }) //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Queue admission races the blocked worker; a canceled context must not
	// hang either way.
	_ = p.run(ctx, func() {})
	close(block)
}
