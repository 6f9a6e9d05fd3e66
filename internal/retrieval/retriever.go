// Package retrieval turns natural-language questions into ranked supporting
// chunks with a confidence score.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/lectern-ai/lectern/internal/index"
	"github.com/lectern-ai/lectern/internal/observability"
)

// ErrNoRelevantContext indicates the top similarity fell below the relevance
// threshold. Callers must fall back rather than surface low-quality matches.
var ErrNoRelevantContext = errors.New("no relevant context")

// Searcher is the nearest-neighbour capability the retriever composes over,
// satisfied by *index.Index.
type Searcher interface {
	Query(ctx context.Context, text string, k int) ([]index.ScoredChunk, error)
}

// Config holds retriever settings.
type Config struct {
	TopK               int
	RelevanceThreshold float64
	SlideBiasBoost     float64
}

// DefaultConfig returns the documented retrieval defaults.
func DefaultConfig() Config {
	return Config{
		TopK:               5,
		RelevanceThreshold: 0.35,
		SlideBiasBoost:     0.1,
	}
}

// Retriever composes over a Searcher and applies the relevance policy.
type Retriever struct {
	search Searcher
	config Config
	logger *observability.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(search Searcher, cfg Config, logger *observability.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	return &Retriever{
		search: search,
		config: cfg,
		logger: logger.WithComponent("retrieval"),
	}
}

// Options tune a single retrieval call.
type Options struct {
	// TopK overrides the configured k when positive.
	TopK int
	// SlidePages biases ranking toward chunks sourced near these pages.
	// The boost is bounded: it reorders comparable matches but never lifts
	// an irrelevant chunk past the relevance threshold.
	SlidePages []int
}

// Result is a ranked set of supporting chunks.
type Result struct {
	Chunks     []index.ScoredChunk
	Confidence float64
}

// Retrieve answers the question against the index.
func (r *Retriever) Retrieve(ctx context.Context, question string, opts Options) (*Result, error) {
	k := opts.TopK
	if k <= 0 {
		k = r.config.TopK
	}

	// Over-fetch so the slide bias has candidates to reorder.
	fetch := k * 3
	candidates, err := r.search.Query(ctx, question, fetch)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return nil, ErrNoRelevantContext
	}

	// The threshold is judged on raw similarity, before any bias.
	top := candidates[0].Score
	if top < r.config.RelevanceThreshold {
		r.logger.Debug().
			Float64("top_score", top).
			Float64("threshold", r.config.RelevanceThreshold).
			Msg("Top similarity below relevance threshold")
		return nil, fmt.Errorf("%w: top similarity %.3f below threshold %.3f",
			ErrNoRelevantContext, top, r.config.RelevanceThreshold)
	}

	if len(opts.SlidePages) > 0 && r.config.SlideBiasBoost > 0 {
		candidates = r.applySlideBias(candidates, opts.SlidePages)
	}

	if k > len(candidates) {
		k = len(candidates)
	}
	chunks := candidates[:k]

	return &Result{
		Chunks:     chunks,
		Confidence: confidence(top, chunks),
	}, nil
}

// applySlideBias adds a bounded boost to chunks on or adjacent to the current
// slide's source pages, then re-sorts. The original tie-break by sequence
// index is preserved through the stable sort.
func (r *Retriever) applySlideBias(candidates []index.ScoredChunk, pages []int) []index.ScoredChunk {
	boosted := make([]index.ScoredChunk, len(candidates))
	copy(boosted, candidates)

	for i, c := range boosted {
		if nearAnyPage(c.Chunk.Page, pages) {
			boosted[i].Score += r.config.SlideBiasBoost
		}
	}

	sort.SliceStable(boosted, func(i, j int) bool {
		if boosted[i].Score != boosted[j].Score {
			return boosted[i].Score > boosted[j].Score
		}
		return boosted[i].Chunk.Seq < boosted[j].Chunk.Seq
	})

	return boosted
}

func nearAnyPage(page int, pages []int) bool {
	for _, p := range pages {
		if page >= p-1 && page <= p+1 {
			return true
		}
	}
	return false
}

// confidence derives a clamped score from the top similarity and the mean of
// the returned set: a single strong match scores high, a uniformly weak set
// scores low.
func confidence(top float64, chunks []index.ScoredChunk) float64 {
	var sum float64
	for _, c := range chunks {
		sum += c.Score
	}
	mean := sum / float64(len(chunks))

	conf := 0.7*top + 0.3*mean
	return math.Max(0, math.Min(1, conf))
}
