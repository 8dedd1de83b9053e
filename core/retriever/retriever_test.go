package retriever

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/loupe/core/confidence"
	"github.com/adalundhe/loupe/core/corpus"
	"github.com/adalundhe/loupe/core/graph"
	"github.com/adalundhe/loupe/core/lexical"
	"github.com/adalundhe/loupe/core/semantic"
)

// =============================================================================
// Stub channels
// =============================================================================

type stubLexical struct {
	matches []lexical.Match
	delay   time.Duration
	ready   bool
}

func (s *stubLexical) IsReady() bool { return s.ready }

func (s *stubLexical) Search(ctx context.Context, _ string, _ int) ([]lexical.Match, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.matches, nil
}

type stubSemantic struct {
	matches []semantic.Match
	delay   time.Duration
	ready   bool
}

func (s *stubSemantic) IsReady() bool { return s.ready }

func (s *stubSemantic) Search(ctx context.Context, _ string, _ int) ([]semantic.Match, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.matches, nil
}

// =============================================================================
// Fixtures
// =============================================================================

func authSnapshot(t *testing.T) *corpus.Snapshot {
	t.Helper()
	b := corpus.NewBuilder(1)

	entities := []*corpus.Entity{
		{ID: "auth/login", Kind: corpus.KindFunction, Name: "login", Path: "internal/auth/login.go", DomainTags: []string{"auth"}},
		{ID: "auth/validateEmail", Kind: corpus.KindFunction, Name: "validateEmail", Path: "internal/auth/validate.go", DomainTags: []string{"auth"}},
		{ID: "auth/tokenStore", Kind: corpus.KindFunction, Name: "tokenStore", Path: "internal/auth/tokens.go", DomainTags: []string{"auth"}},
		{ID: "billing/invoice", Kind: corpus.KindFunction, Name: "createInvoice", Path: "internal/billing/invoice.go", DomainTags: []string{"billing"}},
		{ID: "util/unrelatedFn", Kind: corpus.KindFunction, Name: "unrelatedFn", Path: "internal/util/misc.go"},
	}
	for _, e := range entities {
		require.NoError(t, b.AddEntity(e))
	}

	verified := corpus.Provenance{Source: corpus.SourceASTVerified, ExactLine: true}
	require.NoError(t, b.AddEdge(&corpus.Edge{
		SourceID: "auth/login", TargetID: "auth/validateEmail",
		Type: corpus.EdgeCalls, Weight: 1.0, Provenance: verified,
	}))
	require.NoError(t, b.AddEdge(&corpus.Edge{
		SourceID: "auth/login", TargetID: "auth/tokenStore",
		Type: corpus.EdgeCalls, Weight: 1.0, Provenance: verified,
	}))

	snap, err := b.Build()
	require.NoError(t, err)
	return snap
}

func newTestRetriever(lex *stubLexical, sem *stubSemantic, cfg Config) *Retriever {
	return New(lex, sem, nil, nil, cfg, nil)
}

// =============================================================================
// Validation
// =============================================================================

func TestRetriever_Retrieve_RejectsEmptyIntent(t *testing.T) {
	r := newTestRetriever(&stubLexical{ready: true}, &stubSemantic{ready: true}, Config{})

	_, err := r.Retrieve(context.Background(), authSnapshot(t), nil, Request{Intent: "   "})
	require.Error(t, err)
}

func TestRetriever_Retrieve_RejectsGraphModeWithoutIdentifier(t *testing.T) {
	r := newTestRetriever(&stubLexical{ready: true}, &stubSemantic{ready: true}, Config{})

	_, err := r.Retrieve(context.Background(), authSnapshot(t), nil, Request{
		Intent: "how do users sign in",
		Mode:   ModeGraph,
	})
	require.Error(t, err)
}

// =============================================================================
// Channel union and ranking
// =============================================================================

func TestRetriever_Retrieve_UnionsChannels(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/login", Score: 0.80},
	}}
	sem := &stubSemantic{ready: true, matches: []semantic.Match{
		{EntityID: "auth/validateEmail", Score: 0.70},
	}}
	r := newTestRetriever(lex, sem, Config{})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{Intent: "authenticate user login"})
	require.NoError(t, err)
	require.False(t, result.Fallback)

	ids := make(map[string]bool, len(result.Candidates))
	for _, c := range result.Candidates {
		ids[c.EntityID] = true
	}
	assert.True(t, ids["auth/login"])
	assert.True(t, ids["auth/validateEmail"])
	assert.ElementsMatch(t, []string{"auth/login", "auth/validateEmail"}, result.SeedIDs)
}

func TestRetriever_Retrieve_GraphExpansionAddsNeighbors(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/login", Score: 0.85, Exact: true},
	}}
	r := newTestRetriever(lex, &stubSemantic{ready: true}, Config{})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{Intent: "login flow"})
	require.NoError(t, err)

	byID := make(map[string]*Candidate, len(result.Candidates))
	for _, c := range result.Candidates {
		byID[c.EntityID] = c
	}
	require.Contains(t, byID, "auth/tokenStore", "one-hop callee reached through graph expansion")
	assert.Equal(t, []string{"auth/login", "auth/tokenStore"}, byID["auth/tokenStore"].GraphPath)
	assert.Greater(t, byID["auth/tokenStore"].Graph, 0.0)
}

func TestRetriever_Retrieve_ExactMatchRanksFirst(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/validateEmail", Score: 0.70, Exact: true},
		{EntityID: "auth/login", Score: 0.99},
	}}
	r := newTestRetriever(lex, &stubSemantic{ready: true}, Config{})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{
		Intent: "validateEmail",
		Mode:   ModeLexical,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Candidates)
	assert.Equal(t, "auth/validateEmail", result.Candidates[0].EntityID,
		"exact full-identifier match outranks higher partial scores")
}

func TestRetriever_Retrieve_DeterministicOrder(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/login", Score: 0.60},
		{EntityID: "auth/validateEmail", Score: 0.60},
	}}
	r := newTestRetriever(lex, &stubSemantic{ready: true}, Config{})
	req := Request{Intent: "auth", Mode: ModeLexical}

	first, err := r.Retrieve(context.Background(), snap, nil, req)
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), snap, nil, req)
	require.NoError(t, err)

	require.Equal(t, len(first.Candidates), len(second.Candidates))
	for i := range first.Candidates {
		assert.Equal(t, first.Candidates[i].EntityID, second.Candidates[i].EntityID)
	}
}

// =============================================================================
// Filters
// =============================================================================

func TestRetriever_Retrieve_DomainFilterExcludesOtherDomains(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/login", Score: 0.80},
		{EntityID: "billing/invoice", Score: 0.80},
	}}
	r := newTestRetriever(lex, &stubSemantic{ready: true}, Config{})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{
		Intent:  "create record",
		Mode:    ModeLexical,
		Filters: Filters{Domain: "billing"},
	})
	require.NoError(t, err)

	for _, c := range result.Candidates {
		assert.Equal(t, "billing/invoice", c.EntityID)
	}
}

func TestRetriever_Retrieve_PathFilterMatchesPrefixAndGlob(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/login", Score: 0.80},
		{EntityID: "util/unrelatedFn", Score: 0.80},
	}}
	r := newTestRetriever(lex, &stubSemantic{ready: true}, Config{})

	for _, pattern := range []string{"internal/auth/", "internal/auth/*.go"} {
		result, err := r.Retrieve(context.Background(), snap, nil, Request{
			Intent:  "login",
			Mode:    ModeLexical,
			Filters: Filters{PathPrefix: pattern},
		})
		require.NoError(t, err)

		for _, c := range result.Candidates {
			entity := snap.Entity(c.EntityID)
			require.NotNil(t, entity)
			assert.Contains(t, entity.Path, "internal/auth/", "pattern %q leaked %s", pattern, entity.Path)
		}
	}
}

// =============================================================================
// Fallback
// =============================================================================

func TestRetriever_Retrieve_AllChannelsEmptyFallsBack(t *testing.T) {
	snap := authSnapshot(t)
	auth := graph.ComputeAuthority(snap, graph.DefaultDamping, graph.DefaultMaxIter)
	r := newTestRetriever(&stubLexical{ready: true}, &stubSemantic{ready: true}, Config{})

	result, err := r.Retrieve(context.Background(), snap, auth, Request{Intent: "quantum flux capacitor"})
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Contains(t, result.CoverageGaps, GapNoSemanticMatch)
	require.NotEmpty(t, result.Candidates)
	for _, c := range result.Candidates {
		v, ok := c.Combined.Numeric()
		require.True(t, ok)
		assert.LessOrEqual(t, v, 0.40, "fallback results must not report genuine-match confidence")
		assert.Equal(t, confidence.KindBounded, c.Combined.Kind)
	}
}

func TestRetriever_Retrieve_FallbackWithoutAuthorityUsesCorpusOrder(t *testing.T) {
	snap := authSnapshot(t)
	r := newTestRetriever(&stubLexical{ready: true}, &stubSemantic{ready: true}, Config{MaxResults: 3})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{Intent: "nothing matches this"})
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Len(t, result.Candidates, 3)
}

func TestRetriever_Retrieve_FallbackRespectsFilters(t *testing.T) {
	snap := authSnapshot(t)
	r := newTestRetriever(&stubLexical{ready: true}, &stubSemantic{ready: true}, Config{})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{
		Intent:  "nothing matches this",
		Filters: Filters{Domain: "billing"},
	})
	require.NoError(t, err)

	require.True(t, result.Fallback)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "billing/invoice", result.Candidates[0].EntityID)
}

func TestRetriever_Retrieve_EmptySnapshotFallsBack(t *testing.T) {
	b := corpus.NewBuilder(1)
	snap, err := b.Build()
	require.NoError(t, err)

	r := newTestRetriever(&stubLexical{ready: true}, &stubSemantic{ready: true}, Config{})
	result, err := r.Retrieve(context.Background(), snap, nil, Request{Intent: "anything"})
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Empty(t, result.Candidates)
	assert.Contains(t, result.CoverageGaps, GapNoSemanticMatch)
}

// =============================================================================
// Degradation
// =============================================================================

func TestRetriever_Retrieve_ChannelTimeoutDegradesNotFails(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/login", Score: 0.80},
	}}
	sem := &stubSemantic{ready: true, delay: 500 * time.Millisecond}
	r := newTestRetriever(lex, sem, Config{ChannelTimeout: 20 * time.Millisecond})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{Intent: "login"})
	require.NoError(t, err, "a slow channel degrades the result, it does not fail the query")

	assert.Contains(t, result.TimedOut, "semantic")
	assert.Contains(t, result.CoverageGaps, ChannelTimeoutGap("semantic"))
	require.NotEmpty(t, result.Candidates, "lexical matches still served")
}

func TestRetriever_Retrieve_NotReadyChannelSkipped(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/login", Score: 0.80},
	}}
	r := newTestRetriever(lex, &stubSemantic{ready: false}, Config{})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{Intent: "login"})
	require.NoError(t, err)

	assert.NotContains(t, result.TimedOut, "semantic")
	require.NotEmpty(t, result.Candidates)
}

func TestRetriever_Retrieve_HistoryGapReported(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/login", Score: 0.80},
	}}
	r := newTestRetriever(lex, &stubSemantic{ready: true}, Config{})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{Intent: "login"})
	require.NoError(t, err)
	assert.Contains(t, result.CoverageGaps, GapHistoryUnavailable,
		"corpus built without git history self-reports the gap")
}

// =============================================================================
// Result shape
// =============================================================================

func TestRetriever_Retrieve_MaxResultsCapsOutput(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/login", Score: 0.90},
		{EntityID: "auth/validateEmail", Score: 0.80},
		{EntityID: "auth/tokenStore", Score: 0.70},
	}}
	r := newTestRetriever(lex, &stubSemantic{ready: true}, Config{})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{
		Intent:     "auth",
		Mode:       ModeLexical,
		MaxResults: 2,
	})
	require.NoError(t, err)
	assert.Len(t, result.Candidates, 2)
}

func TestRetriever_Retrieve_CandidatesCarryExplanations(t *testing.T) {
	snap := authSnapshot(t)
	lex := &stubLexical{ready: true, matches: []lexical.Match{
		{EntityID: "auth/login", Score: 0.80, Exact: true},
	}}
	r := newTestRetriever(lex, &stubSemantic{ready: true}, Config{})

	result, err := r.Retrieve(context.Background(), snap, nil, Request{Intent: "login"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Candidates)

	top := result.Candidates[0]
	assert.NotEmpty(t, top.Explanation)
	assert.NotEmpty(t, top.Shares)
	assert.NotEmpty(t, top.Signals)
}
