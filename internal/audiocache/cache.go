// Package audiocache memoizes synthesized narration audio so identical
// requests never re-invoke the speech capability.
package audiocache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lectern-ai/lectern/internal/observability"
)

// VoiceParams are the synthesis parameters that contribute to the cache
// fingerprint. Two requests with equal normalized text and equal params are
// the same audio.
type VoiceParams struct {
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
}

// Synthesizer is the text-to-speech capability the cache guards.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, params VoiceParams) ([]byte, error)
}

// Config bounds the cache.
type Config struct {
	MaxBytes   int64
	MaxEntries int
}

// Cache is a process-wide, single-flight, LRU-bounded audio cache.
type Cache struct {
	synth  Synthesizer
	config Config
	logger *observability.Logger
	flight singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element // fingerprint -> lru element
	lru     *list.List               // front = most recent
	bytes   int64
}

type cacheEntry struct {
	fingerprint string
	audio       []byte
}

// New creates an audio cache over the given synthesizer.
func New(synth Synthesizer, cfg Config, logger *observability.Logger) *Cache {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 256
	}
	return &Cache{
		synth:   synth,
		config:  cfg,
		logger:  logger.WithComponent("audiocache"),
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// GetOrSynthesize returns cached audio for the fingerprint of (text, params),
// synthesizing at most once per fingerprint regardless of concurrency.
// Failed synthesis is never cached.
func (c *Cache) GetOrSynthesize(ctx context.Context, text string, params VoiceParams) ([]byte, error) {
	fp := Fingerprint(text, params)

	if audio, ok := c.lookup(fp); ok {
		return audio, nil
	}

	// Concurrent misses for the same fingerprint share one flight; only the
	// leader calls the synthesizer.
	v, err, _ := c.flight.Do(fp, func() (interface{}, error) {
		if audio, ok := c.lookup(fp); ok {
			return audio, nil
		}

		audio, err := c.synth.Synthesize(ctx, text, params)
		if err != nil {
			return nil, err
		}

		c.store(fp, audio)
		return audio, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

// Contains reports whether the fingerprint is cached. Used by narration
// prefetch to skip work.
func (c *Cache) Contains(text string, params VoiceParams) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[Fingerprint(text, params)]
	return ok
}

// Remove drops the cached audio for (text, params), if present. Deck
// regeneration uses it to release the prior deck's narration.
func (c *Cache) Remove(text string, params VoiceParams) {
	fp := Fingerprint(text, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fp]
	if !ok {
		return
	}
	entry := el.Value.(*cacheEntry)
	c.lru.Remove(el)
	delete(c.entries, fp)
	c.bytes -= int64(len(entry.audio))
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) lookup(fp string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fp]
	if !ok {
		return nil, false
	}

	c.lru.MoveToFront(el)
	return el.Value.(*cacheEntry).audio, true
}

// store commits a synthesized result and evicts least-recently-used entries
// until the configured bounds hold. In-flight results are not in the LRU yet, so
// eviction can never touch an entry a waiter has not yet received.
func (c *Cache) store(fp string, audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[fp]; ok {
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&cacheEntry{fingerprint: fp, audio: audio})
	c.entries[fp] = el
	c.bytes += int64(len(audio))

	for (c.bytes > c.config.MaxBytes || c.lru.Len() > c.config.MaxEntries) && c.lru.Len() > 1 {
		oldest := c.lru.Back()
		if oldest == nil || oldest == el {
			break
		}
		evicted := oldest.Value.(*cacheEntry)
		c.lru.Remove(oldest)
		delete(c.entries, evicted.fingerprint)
		c.bytes -= int64(len(evicted.audio))

		c.logger.Debug().
			Str("fingerprint", evicted.fingerprint[:12]).
			Int("size", len(evicted.audio)).
			Msg("Evicted audio cache entry")
	}
}

// Fingerprint computes the stable cache key for normalized text plus voice
// parameters.
func Fingerprint(text string, params VoiceParams) string {
	h := sha256.New()
	h.Write([]byte(normalizeText(text)))
	fmt.Fprintf(h, "|%s|%s|%.3f|%.3f", params.VoiceID, params.ModelID, params.Stability, params.SimilarityBoost)
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeText collapses whitespace so formatting differences do not defeat
// the cache.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
