// Package index provides the in-memory embedding index for a single document.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/lectern-ai/lectern/internal/document"
)

// Errors surfaced by the index.
var (
	// ErrInvalidQuery indicates a caller error (empty query or k <= 0).
	ErrInvalidQuery = errors.New("invalid query")
	// ErrEmbeddingFailure indicates the upstream embedding capability failed;
	// the index is left untouched.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrIndexVersionMismatch indicates embedding dimensionality or model
	// drift between index time and query time.
	ErrIndexVersionMismatch = errors.New("index version mismatch")
	// ErrIndexEmpty indicates a query against an index that was never built.
	ErrIndexEmpty = errors.New("index is empty")
)

// Embedder is the embedding capability the index consumes, satisfied by the
// generation gateway.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModel() string
}

type entry struct {
	chunk  document.Chunk
	vector []float32 // unit length
}

// Index holds (embedding, chunk) pairs for one document and answers
// nearest-neighbour queries by cosine similarity. A build commits
// all-or-nothing: readers never observe a partially built index.
type Index struct {
	embedder Embedder

	mu        sync.RWMutex
	entries   []entry
	dimension int
	model     string
}

// New creates an empty index backed by the given embedder.
func New(embedder Embedder) *Index {
	return &Index{embedder: embedder}
}

// ScoredChunk is a retrieval candidate with its similarity score.
type ScoredChunk struct {
	Chunk document.Chunk
	Score float64
}

// Build embeds every chunk and replaces the index contents atomically.
// On any failure the previous contents remain visible.
func (ix *Index) Build(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks", document.ErrInvalidDocument)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}

	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingFailure, len(vectors), len(chunks))
	}

	dimension := len(vectors[0])
	staged := make([]entry, len(chunks))
	for i, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: chunk %d has dimension %d, expected %d",
				ErrIndexVersionMismatch, chunks[i].Seq, len(v), dimension)
		}
		// Written back so callers can reuse the vectors, e.g. for topic
		// seeding over the same chunks.
		chunks[i].Embedding = v
		staged[i] = entry{chunk: chunks[i], vector: normalize(v)}
	}

	ix.mu.Lock()
	ix.entries = staged
	ix.dimension = dimension
	ix.model = ix.embedder.EmbeddingModel()
	ix.mu.Unlock()

	return nil
}

// Query embeds the text and returns the k most similar chunks, ordered by
// score descending with ties broken by lower sequence index.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty query text", ErrInvalidQuery)
	}

	ix.mu.RLock()
	built := len(ix.entries) > 0
	model := ix.model
	ix.mu.RUnlock()

	if !built {
		return nil, ErrIndexEmpty
	}

	if current := ix.embedder.EmbeddingModel(); current != model {
		return nil, fmt.Errorf("%w: index built with model %s, querying with %s",
			ErrIndexVersionMismatch, model, current)
	}

	vectors, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}
	query := normalize(vectors[0])

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(query) != ix.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d",
			ErrIndexVersionMismatch, len(query), ix.dimension)
	}

	scored := make([]ScoredChunk, len(ix.entries))
	for i, e := range ix.entries {
		scored[i] = ScoredChunk{Chunk: e.chunk, Score: dot(query, e.vector)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.Seq < scored[j].Chunk.Seq
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// dot computes cosine similarity for unit vectors, clamped to [-1, 1].
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	if sum > 1 {
		sum = 1
	} else if sum < -1 {
		sum = -1
	}
	return sum
}

// normalize returns a unit-length copy of v.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
