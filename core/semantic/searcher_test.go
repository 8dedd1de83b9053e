package semantic

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns a fixed query vector.
type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func unit(dim int, values ...float32) []float32 {
	vec := make([]float32, dim)
	copy(vec, values)
	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(mag))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// buildSearchStore seeds three entities: one aligned with the query axis,
// one at cosine 0.9 to it, one orthogonal.
func buildSearchStore(t *testing.T) *Store {
	t.Helper()

	store, err := CreateStore(storePath(t), 8, 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Append("fn:auth/login.py:login", unit(8, 1))
	require.NoError(t, err)

	_, err = store.Append("fn:auth/validate.py:validateEmail", unit(8, 0.9, float32(math.Sqrt(1-0.81))))
	require.NoError(t, err)

	_, err = store.Append("fn:billing/invoice.py:renderInvoice", unit(8, 0, 1))
	require.NoError(t, err)

	return store
}

func TestSearcher_GateExcludesDissimilar(t *testing.T) {
	store := buildSearchStore(t)
	searcher := NewSearcher(store, &stubEmbedder{vec: unit(8, 1)}, 0)

	matches, err := searcher.Search(context.Background(), "login session", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "fn:auth/login.py:login", matches[0].EntityID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)

	assert.Equal(t, "fn:auth/validate.py:validateEmail", matches[1].EntityID)
	assert.InDelta(t, 0.9, matches[1].Score, 1e-5)

	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, DefaultThreshold)
		assert.LessOrEqual(t, m.Score, 1.0)
	}
}

func TestSearcher_CustomThreshold(t *testing.T) {
	store := buildSearchStore(t)
	searcher := NewSearcher(store, &stubEmbedder{vec: unit(8, 1)}, 0.95)

	matches, err := searcher.Search(context.Background(), "login", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "fn:auth/login.py:login", matches[0].EntityID)
}

func TestSearcher_DefaultThreshold(t *testing.T) {
	searcher := NewSearcher(nil, nil, 0)
	assert.Equal(t, DefaultThreshold, searcher.Threshold())

	searcher = NewSearcher(nil, nil, 0.5)
	assert.Equal(t, 0.5, searcher.Threshold())
}

func TestSearcher_Limit(t *testing.T) {
	store := buildSearchStore(t)
	searcher := NewSearcher(store, &stubEmbedder{vec: unit(8, 1)}, 0)

	matches, err := searcher.Search(context.Background(), "login", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "fn:auth/login.py:login", matches[0].EntityID)
}

func TestSearcher_EmbedderFailureDegrades(t *testing.T) {
	store := buildSearchStore(t)
	searcher := NewSearcher(store, &stubEmbedder{err: errors.New("provider down")}, 0)

	matches, err := searcher.Search(context.Background(), "login", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearcher_DimensionMismatchDegrades(t *testing.T) {
	store := buildSearchStore(t)
	searcher := NewSearcher(store, &stubEmbedder{vec: unit(4, 1)}, 0)

	matches, err := searcher.Search(context.Background(), "login", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearcher_ContextCancellation(t *testing.T) {
	store := buildSearchStore(t)
	searcher := NewSearcher(store, &stubEmbedder{vec: unit(8, 1)}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := searcher.Search(ctx, "login", 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSearcher_NotReady(t *testing.T) {
	assert.False(t, NewSearcher(nil, &stubEmbedder{}, 0).IsReady())

	store, err := CreateStore(storePath(t), 8, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.False(t, NewSearcher(store, nil, 0).IsReady(), "no embedder")
	assert.False(t, NewSearcher(store, &stubEmbedder{}, 0).IsReady(), "empty store")

	matches, err := NewSearcher(nil, nil, 0).Search(context.Background(), "login", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearcher_EmptyIntent(t *testing.T) {
	store := buildSearchStore(t)
	searcher := NewSearcher(store, &stubEmbedder{vec: unit(8, 1)}, 0)

	matches, err := searcher.Search(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearcher_ZeroQueryVector(t *testing.T) {
	store := buildSearchStore(t)
	searcher := NewSearcher(store, &stubEmbedder{}, 0)

	matches, err := searcher.SearchVector(context.Background(), make([]float32, 8), 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearcher_ParallelScanMatchesSerial(t *testing.T) {
	store := buildSearchStore(t)
	searcher := NewSearcher(store, nil, 0)

	query := unit(8, 1)
	queryNorm := Magnitude(query)

	serial := searcher.scanRange(query, queryNorm, 0, store.Count())
	parallel := searcher.scanParallel(query, queryNorm, store.Count())

	byID := func(ms []Match) {
		sort.Slice(ms, func(i, j int) bool { return ms[i].EntityID < ms[j].EntityID })
	}
	byID(serial)
	byID(parallel)
	assert.Equal(t, serial, parallel)
}
