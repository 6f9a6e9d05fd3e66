package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/internal/cache"
	"github.com/lectern-ai/lectern/internal/index"
	"github.com/lectern-ai/lectern/internal/observability"
)

// countingSearcher tracks how often the index is actually queried.
type countingSearcher struct {
	results []index.ScoredChunk
	queries int
}

func (s *countingSearcher) Query(ctx context.Context, text string, k int) ([]index.ScoredChunk, error) {
	s.queries++
	if k > len(s.results) {
		k = len(s.results)
	}
	return s.results[:k], nil
}

func newCachedRetriever(t *testing.T, search Searcher) (*CachedRetriever, cache.Client) {
	t.Helper()
	client := cache.NewMemoryClient(64)
	t.Cleanup(func() { client.Close() })

	inner := NewRetriever(search, Config{TopK: 2, RelevanceThreshold: 0.35}, observability.Discard())
	return NewCachedRetriever(inner, client, time.Minute, observability.Discard()), client
}

func TestCachedRetriever_ServesRepeatFromCache(t *testing.T) {
	search := &countingSearcher{results: []index.ScoredChunk{
		scored(0, 1, "answer", 0.9),
	}}
	cached, _ := newCachedRetriever(t, search)

	first, err := cached.Retrieve(context.Background(), "doc-1", "question", Options{})
	require.NoError(t, err)

	second, err := cached.Retrieve(context.Background(), "doc-1", "question", Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, search.queries, "repeat question should be served from cache")
	assert.Equal(t, first.Confidence, second.Confidence)
	require.Len(t, second.Chunks, 1)
	assert.Equal(t, first.Chunks[0].Chunk.Text, second.Chunks[0].Chunk.Text)
}

func TestCachedRetriever_KeyVariesWithOptions(t *testing.T) {
	search := &countingSearcher{results: []index.ScoredChunk{
		scored(0, 1, "answer", 0.9),
	}}
	cached, _ := newCachedRetriever(t, search)

	_, err := cached.Retrieve(context.Background(), "doc-1", "question", Options{})
	require.NoError(t, err)
	_, err = cached.Retrieve(context.Background(), "doc-1", "question", Options{SlidePages: []int{2}})
	require.NoError(t, err)

	assert.Equal(t, 2, search.queries, "different slide context must not share a cache entry")
}

func TestCachedRetriever_InvalidateClearsDocument(t *testing.T) {
	search := &countingSearcher{results: []index.ScoredChunk{
		scored(0, 1, "answer", 0.9),
	}}
	cached, _ := newCachedRetriever(t, search)

	_, err := cached.Retrieve(context.Background(), "doc-1", "question", Options{})
	require.NoError(t, err)

	cached.Invalidate(context.Background(), "doc-1")

	_, err = cached.Retrieve(context.Background(), "doc-1", "question", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, search.queries, "invalidation should force a fresh retrieval")
}

func TestCachedRetriever_MissesAreNotCached(t *testing.T) {
	search := &countingSearcher{}
	cached, _ := newCachedRetriever(t, search)

	_, err := cached.Retrieve(context.Background(), "doc-1", "question", Options{})
	require.ErrorIs(t, err, ErrNoRelevantContext)

	_, err = cached.Retrieve(context.Background(), "doc-1", "question", Options{})
	require.ErrorIs(t, err, ErrNoRelevantContext)
	assert.Equal(t, 2, search.queries, "failed retrievals must not be cached")
}

func TestCachedRetriever_NilClientDelegates(t *testing.T) {
	search := &countingSearcher{results: []index.ScoredChunk{
		scored(0, 1, "answer", 0.9),
	}}
	inner := NewRetriever(search, Config{TopK: 1, RelevanceThreshold: 0.35}, observability.Discard())
	cached := NewCachedRetriever(inner, nil, time.Minute, observability.Discard())

	_, err := cached.Retrieve(context.Background(), "doc-1", "question", Options{})
	require.NoError(t, err)
	_, err = cached.Retrieve(context.Background(), "doc-1", "question", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, search.queries)
}
