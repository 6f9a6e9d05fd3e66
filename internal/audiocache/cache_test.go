package audiocache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/internal/observability"
)

// countingSynth produces deterministic audio and counts calls.
type countingSynth struct {
	calls int64
	delay time.Duration
	err   error
}

func (s *countingSynth) Synthesize(ctx context.Context, text string, params VoiceParams) ([]byte, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return []byte("audio:" + params.VoiceID + ":" + text), nil
}

var testParams = VoiceParams{VoiceID: "v1", ModelID: "m1", Stability: 0.5, SimilarityBoost: 0.75}

func newTestCache(synth Synthesizer, cfg Config) *Cache {
	return New(synth, cfg, observability.Discard())
}

func TestCache_RepeatRequestIsByteIdentical(t *testing.T) {
	synth := &countingSynth{}
	c := newTestCache(synth, Config{MaxBytes: 1 << 20, MaxEntries: 16})

	first, err := c.GetOrSynthesize(context.Background(), "hello world", testParams)
	require.NoError(t, err)
	second, err := c.GetOrSynthesize(context.Background(), "hello world", testParams)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt64(&synth.calls))
}

func TestCache_NormalizedTextSharesEntry(t *testing.T) {
	synth := &countingSynth{}
	c := newTestCache(synth, Config{MaxBytes: 1 << 20, MaxEntries: 16})

	_, err := c.GetOrSynthesize(context.Background(), "hello   world", testParams)
	require.NoError(t, err)
	_, err = c.GetOrSynthesize(context.Background(), " hello world\n", testParams)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt64(&synth.calls),
		"whitespace variants must map to one fingerprint")
}

func TestCache_VoiceParamsSplitEntries(t *testing.T) {
	synth := &countingSynth{}
	c := newTestCache(synth, Config{MaxBytes: 1 << 20, MaxEntries: 16})

	_, err := c.GetOrSynthesize(context.Background(), "hello", testParams)
	require.NoError(t, err)

	other := testParams
	other.VoiceID = "v2"
	_, err = c.GetOrSynthesize(context.Background(), "hello", other)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt64(&synth.calls))
	assert.Equal(t, 2, c.Len())
}

func TestCache_ConcurrentMissesShareOneFlight(t *testing.T) {
	synth := &countingSynth{delay: 50 * time.Millisecond}
	c := newTestCache(synth, Config{MaxBytes: 1 << 20, MaxEntries: 16})

	const goroutines = 20
	results := make([][]byte, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			audio, err := c.GetOrSynthesize(context.Background(), "shared narration", testParams)
			assert.NoError(t, err)
			results[i] = audio
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&synth.calls),
		"concurrent requests for one fingerprint must synthesize once")
	for i := 1; i < goroutines; i++ {
		assert.Equal(t, results[0], results[i])
	}
}

func TestCache_EvictsLeastRecentlyUsedByEntries(t *testing.T) {
	synth := &countingSynth{}
	c := newTestCache(synth, Config{MaxBytes: 1 << 20, MaxEntries: 2})

	_, err := c.GetOrSynthesize(context.Background(), "first", testParams)
	require.NoError(t, err)
	_, err = c.GetOrSynthesize(context.Background(), "second", testParams)
	require.NoError(t, err)

	// Touch "first" so "second" becomes the eviction candidate.
	_, err = c.GetOrSynthesize(context.Background(), "first", testParams)
	require.NoError(t, err)

	_, err = c.GetOrSynthesize(context.Background(), "third", testParams)
	require.NoError(t, err)

	assert.True(t, c.Contains("first", testParams))
	assert.False(t, c.Contains("second", testParams))
	assert.True(t, c.Contains("third", testParams))
	assert.Equal(t, 2, c.Len())
}

func TestCache_EvictsByBytes(t *testing.T) {
	synth := &countingSynth{}
	// Each entry is roughly 20 bytes, so three entries exceed the budget.
	c := newTestCache(synth, Config{MaxBytes: 50, MaxEntries: 100})

	for i := 0; i < 4; i++ {
		_, err := c.GetOrSynthesize(context.Background(), fmt.Sprintf("utterance %d", i), testParams)
		require.NoError(t, err)
	}

	assert.Less(t, c.Len(), 4, "byte budget must bound the entry count")
	assert.True(t, c.Contains("utterance 3", testParams), "the newest entry survives eviction")
}

func TestCache_RemoveReleasesEntry(t *testing.T) {
	synth := &countingSynth{}
	c := newTestCache(synth, Config{MaxBytes: 1 << 20, MaxEntries: 16})

	_, err := c.GetOrSynthesize(context.Background(), "old narration", testParams)
	require.NoError(t, err)
	_, err = c.GetOrSynthesize(context.Background(), "kept narration", testParams)
	require.NoError(t, err)

	c.Remove("old narration", testParams)
	c.Remove("never cached", testParams)

	assert.False(t, c.Contains("old narration", testParams))
	assert.True(t, c.Contains("kept narration", testParams))
	assert.Equal(t, 1, c.Len())

	_, err = c.GetOrSynthesize(context.Background(), "old narration", testParams)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt64(&synth.calls),
		"a removed entry must synthesize again on the next request")
}

func TestCache_SynthesisErrorNotCached(t *testing.T) {
	synth := &countingSynth{err: errors.New("voice service down")}
	c := newTestCache(synth, Config{MaxBytes: 1 << 20, MaxEntries: 16})

	_, err := c.GetOrSynthesize(context.Background(), "hello", testParams)
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	synth.err = nil
	audio, err := c.GetOrSynthesize(context.Background(), "hello", testParams)
	require.NoError(t, err)
	assert.NotEmpty(t, audio)
	assert.EqualValues(t, 2, atomic.LoadInt64(&synth.calls))
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("hello world", testParams)
	b := Fingerprint("hello  world ", testParams)
	assert.Equal(t, a, b)

	other := testParams
	other.Stability = 0.6
	assert.NotEqual(t, a, Fingerprint("hello world", other))
}
