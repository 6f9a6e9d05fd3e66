package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/lectern-ai/lectern/internal/cache"
	"github.com/lectern-ai/lectern/internal/observability"
)

// CachedRetriever wraps a Retriever with a TTL-bounded response cache.
// Only successful results are cached, so a hit can never mask an upstream
// failure or a below-threshold miss.
type CachedRetriever struct {
	inner  *Retriever
	client cache.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedRetriever wraps the retriever. A nil client disables caching.
func NewCachedRetriever(inner *Retriever, client cache.Client, ttl time.Duration, logger *observability.Logger) *CachedRetriever {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRetriever{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.WithComponent("retrieval_cache"),
	}
}

// Retrieve answers from cache when possible, falling through to the inner
// retriever. Cache failures are logged and ignored.
func (c *CachedRetriever) Retrieve(ctx context.Context, docID, question string, opts Options) (*Result, error) {
	if c.client == nil {
		return c.inner.Retrieve(ctx, question, opts)
	}

	key := c.cacheKey(docID, question, opts)

	if data, err := c.client.Get(ctx, key); err == nil {
		var result Result
		if err := json.Unmarshal(data, &result); err == nil {
			c.logger.Debug().Str("key", key).Msg("Retrieval cache hit")
			return &result, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Msg("Retrieval cache read failed")
	}

	result, err := c.inner.Retrieve(ctx, question, opts)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(result); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
			c.logger.Warn().Err(err).Msg("Retrieval cache write failed")
		}
	}

	return result, nil
}

// Invalidate drops every cached result for a document. Called when the
// document is replaced.
func (c *CachedRetriever) Invalidate(ctx context.Context, docID string) {
	if c.client == nil {
		return
	}
	if err := c.client.DeleteByPrefix(ctx, docPrefix(docID)); err != nil {
		c.logger.Warn().Err(err).Str("document_id", docID).Msg("Retrieval cache invalidation failed")
	}
}

func (c *CachedRetriever) cacheKey(docID, question string, opts Options) string {
	pages := append([]int(nil), opts.SlidePages...)
	sort.Ints(pages)

	h := sha256.New()
	h.Write([]byte(question))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(opts.TopK)))
	for _, p := range pages {
		fmt.Fprintf(h, ",%d", p)
	}

	return docPrefix(docID) + hex.EncodeToString(h.Sum(nil))
}

func docPrefix(docID string) string {
	return cache.Key("retrieval", docID) + ":"
}
