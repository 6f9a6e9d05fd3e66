package slides

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/internal/document"
	"github.com/lectern-ai/lectern/internal/gateway"
	"github.com/lectern-ai/lectern/internal/index"
	"github.com/lectern-ai/lectern/internal/observability"
	"github.com/lectern-ai/lectern/internal/retrieval"
)

// scriptedCompleter returns responses in call order, repeating the last one.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (s *scriptedCompleter) Complete(ctx context.Context, prompt gateway.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

// recordingRetriever returns fixed passages and records questions.
type recordingRetriever struct {
	mu        sync.Mutex
	err       error
	questions []string
}

func (r *recordingRetriever) Retrieve(ctx context.Context, docID, question string, opts retrieval.Options) (*retrieval.Result, error) {
	r.mu.Lock()
	r.questions = append(r.questions, question)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &retrieval.Result{
		Chunks: []index.ScoredChunk{
			{Chunk: document.Chunk{Seq: 0, Page: 2, Text: "supporting passage"}, Score: 0.8},
		},
		Confidence: 0.8,
	}, nil
}

const validSlideJSON = `{"title":"Topic Title","content":"Body of the slide.","speaker_notes":"Spoken narration for the slide.","image_description":"a diagram"}`

func testDoc(topics ...string) *document.Document {
	return &document.Document{
		ID:        uuid.New(),
		Filename:  "paper.pdf",
		PageCount: 10,
		Summary: &document.Summary{
			Title:      "Test Paper",
			Abstract:   "An abstract about the test subject.",
			MainTopics: topics,
		},
	}
}

func newTestGenerator(completer Completer, retriever ContextRetriever, cfg Config) *Generator {
	return NewGenerator(completer, retriever, cfg, observability.Discard())
}

func TestGenerator_DeckIsContiguousWithNarration(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{validSlideJSON}}
	retriever := &recordingRetriever{}
	g := newTestGenerator(completer, retriever, Config{MinSlides: 2, MaxSlides: 8, MaxConcurrent: 2})

	doc := testDoc("intro", "method", "results", "conclusion")
	deck, err := g.Generate(context.Background(), doc)
	require.NoError(t, err)

	require.Len(t, deck.Slides, 4)
	for i, slide := range deck.Slides {
		assert.Equal(t, i+1, slide.SlideNumber)
		assert.NotEmpty(t, slide.SpeakerNotes)
		assert.NotEmpty(t, slide.Narration())
	}
	assert.Equal(t, doc.ID, deck.DocumentID)
	assert.False(t, deck.GeneratedAt.IsZero())
}

func TestGenerator_TopicsCappedAtMaxSlides(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{validSlideJSON}}
	g := newTestGenerator(completer, &recordingRetriever{}, Config{MinSlides: 2, MaxSlides: 3, MaxConcurrent: 2})

	doc := testDoc("a", "b", "c", "d", "e", "f")
	deck, err := g.Generate(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, deck.Slides, 3)
}

func TestGenerator_FencedResponseAccepted(t *testing.T) {
	fenced := "```json\n" + validSlideJSON + "\n```"
	completer := &scriptedCompleter{responses: []string{fenced}}
	g := newTestGenerator(completer, &recordingRetriever{}, Config{MinSlides: 1, MaxSlides: 8, MaxConcurrent: 1})

	deck, err := g.Generate(context.Background(), testDoc("single topic"))
	require.NoError(t, err)
	require.Len(t, deck.Slides, 1)
	assert.Equal(t, "Topic Title", deck.Slides[0].Title)
}

func TestGenerator_RetriesInvalidSlideOnce(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		`{"title":"","content":"","speaker_notes":""}`,
		validSlideJSON,
	}}
	g := newTestGenerator(completer, &recordingRetriever{}, Config{MinSlides: 1, MaxSlides: 8, MaxConcurrent: 1})

	deck, err := g.Generate(context.Background(), testDoc("only topic"))
	require.NoError(t, err)
	require.Len(t, deck.Slides, 1)
	assert.Equal(t, 2, completer.calls, "an invalid response earns exactly one retry")
}

func TestGenerator_AllOrNothingOnPersistentFailure(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{`not even json`}}
	g := newTestGenerator(completer, &recordingRetriever{}, Config{MinSlides: 1, MaxSlides: 8, MaxConcurrent: 2})

	_, err := g.Generate(context.Background(), testDoc("a", "b", "c"))
	assert.ErrorIs(t, err, ErrSlideGenerationFailed)
}

func TestGenerator_NoRelevantContextFallsBackToAbstract(t *testing.T) {
	var sawAbstract atomic.Bool
	completer := &promptInspector{
		inspect: func(prompt gateway.Prompt) {
			if strings.Contains(prompt.User, "An abstract about the test subject.") {
				sawAbstract.Store(true)
			}
		},
		response: validSlideJSON,
	}
	retriever := &recordingRetriever{err: retrieval.ErrNoRelevantContext}
	g := newTestGenerator(completer, retriever, Config{MinSlides: 1, MaxSlides: 8, MaxConcurrent: 1})

	deck, err := g.Generate(context.Background(), testDoc("thin topic"))
	require.NoError(t, err, "a topic with no retrievable context still yields a slide")
	require.Len(t, deck.Slides, 1)
	assert.True(t, sawAbstract.Load(), "the abstract should stand in for missing passages")
}

func TestGenerator_TopicsFromEmbeddingsWhenSummaryThin(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{validSlideJSON}}
	g := newTestGenerator(completer, &recordingRetriever{}, Config{MinSlides: 2, MaxSlides: 4, MaxConcurrent: 1})

	doc := &document.Document{
		ID:       uuid.New(),
		Filename: "scan.pdf",
		Chunks: []document.Chunk{
			{Seq: 0, Text: "thermodynamics and heat transfer", Embedding: []float32{1, 0, 0}},
			{Seq: 1, Text: "fluid dynamics in pipes", Embedding: []float32{0, 1, 0}},
			{Seq: 2, Text: "statics of rigid bodies", Embedding: []float32{0, 0, 1}},
		},
	}

	deck, err := g.Generate(context.Background(), doc)
	require.NoError(t, err)
	assert.NotEmpty(t, deck.Slides, "embedding seeds must supply topics when the summary has none")
	assert.LessOrEqual(t, len(deck.Slides), 3)
}

func TestGenerator_NoTopicsNoChunks(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{validSlideJSON}}
	g := newTestGenerator(completer, &recordingRetriever{}, Config{MinSlides: 1, MaxSlides: 8, MaxConcurrent: 1})

	doc := &document.Document{ID: uuid.New(), Filename: "empty.pdf"}
	_, err := g.Generate(context.Background(), doc)
	assert.ErrorIs(t, err, ErrSlideGenerationFailed)
}

// promptInspector lets a test look at each prompt before answering.
type promptInspector struct {
	inspect  func(gateway.Prompt)
	response string
}

func (p *promptInspector) Complete(ctx context.Context, prompt gateway.Prompt) (string, error) {
	p.inspect(prompt)
	return p.response, nil
}

func TestSeedTopics_Deterministic(t *testing.T) {
	chunks := []document.Chunk{
		{Seq: 0, Text: "alpha topic text", Embedding: []float32{1, 0, 0}},
		{Seq: 1, Text: "beta topic text", Embedding: []float32{0, 1, 0}},
		{Seq: 2, Text: "gamma topic text", Embedding: []float32{0, 0, 1}},
		{Seq: 3, Text: "alpha again nearly", Embedding: []float32{0.99, 0.1, 0}},
	}

	first := seedTopics(chunks, 3)
	second := seedTopics(chunks, 3)
	assert.Equal(t, first, second)

	require.Len(t, first, 3)
	assert.Equal(t, "alpha topic text", first[0], "selection always starts from the first chunk")
	assert.NotContains(t, first, "alpha again nearly", "near-duplicates should lose to spread-out seeds")
}

func deckForStore(docID uuid.UUID, n int, tag string) *Deck {
	deck := &Deck{DocumentID: docID}
	for i := 1; i <= n; i++ {
		deck.Slides = append(deck.Slides, Slide{
			SlideNumber:  i,
			Title:        fmt.Sprintf("%s slide %d", tag, i),
			Content:      "content",
			SpeakerNotes: tag,
		})
	}
	return deck
}

func TestDeckStore_ReplaceAndGet(t *testing.T) {
	store := NewDeckStore()
	docID := uuid.New()

	_, err := store.Get(docID)
	assert.ErrorIs(t, err, ErrDeckNotFound)

	require.NoError(t, store.Replace(deckForStore(docID, 3, "v1")))

	deck, err := store.Get(docID)
	require.NoError(t, err)
	assert.Len(t, deck.Slides, 3)

	slide, err := deck.Slide(2)
	require.NoError(t, err)
	assert.Equal(t, 2, slide.SlideNumber)

	_, err = deck.Slide(4)
	assert.ErrorIs(t, err, ErrDeckNotFound)
	_, err = deck.Slide(0)
	assert.ErrorIs(t, err, ErrDeckNotFound)
}

func TestDeckStore_RejectsInvalidDecks(t *testing.T) {
	store := NewDeckStore()
	docID := uuid.New()

	gap := deckForStore(docID, 3, "v1")
	gap.Slides[1].SlideNumber = 5
	assert.ErrorIs(t, store.Replace(gap), ErrSlideGenerationFailed)

	silent := deckForStore(docID, 2, "v1")
	silent.Slides[1].SpeakerNotes = "  "
	assert.ErrorIs(t, store.Replace(silent), ErrSlideGenerationFailed)

	assert.ErrorIs(t, store.Replace(&Deck{DocumentID: docID}), ErrSlideGenerationFailed)

	_, err := store.Get(docID)
	assert.ErrorIs(t, err, ErrDeckNotFound, "rejected decks must never be published")
}

func TestDeckStore_AtomicReplacementUnderReaders(t *testing.T) {
	store := NewDeckStore()
	docID := uuid.New()
	require.NoError(t, store.Replace(deckForStore(docID, 4, "gen0")))

	done := make(chan struct{})
	var readerErrs atomic.Int64

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				deck, err := store.Get(docID)
				if err != nil {
					readerErrs.Add(1)
					return
				}
				// Every observed deck must be internally consistent: one
				// generation, contiguous numbering.
				tag := deck.Slides[0].SpeakerNotes
				for i, s := range deck.Slides {
					if s.SlideNumber != i+1 || s.SpeakerNotes != tag {
						readerErrs.Add(1)
						return
					}
				}
			}
		}()
	}

	for gen := 1; gen <= 50; gen++ {
		size := 3 + gen%4
		require.NoError(t, store.Replace(deckForStore(docID, size, fmt.Sprintf("gen%d", gen))))
	}
	close(done)
	wg.Wait()

	assert.Zero(t, readerErrs.Load(), "readers must only ever see complete decks")
}
