package voice

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/internal/config"
	"github.com/lectern-ai/lectern/internal/document"
	"github.com/lectern-ai/lectern/internal/gateway"
	"github.com/lectern-ai/lectern/internal/index"
	"github.com/lectern-ai/lectern/internal/observability"
	"github.com/lectern-ai/lectern/internal/retrieval"
	"github.com/lectern-ai/lectern/internal/slides"
)

// stubTranscriber maps audio bytes to a fixed transcript.
type stubTranscriber struct {
	transcripts map[string]string
	err         error
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.transcripts[string(audio)], nil
}

// stubCompleter answers with a canned string and records prompts.
type stubCompleter struct {
	mu      sync.Mutex
	answer  string
	prompts []gateway.Prompt
}

func (s *stubCompleter) Complete(ctx context.Context, prompt gateway.Prompt) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	return s.answer, nil
}

// stubRetriever returns fixed chunks and records the options it saw.
type stubRetriever struct {
	mu       sync.Mutex
	result   *retrieval.Result
	err      error
	lastOpts retrieval.Options
}

func (s *stubRetriever) Retrieve(ctx context.Context, docID, question string, opts retrieval.Options) (*retrieval.Result, error) {
	s.mu.Lock()
	s.lastOpts = opts
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// stubDecks serves one fixed deck.
type stubDecks struct {
	deck *slides.Deck
}

func (s *stubDecks) Get(docID uuid.UUID) (*slides.Deck, error) {
	if s.deck == nil || s.deck.DocumentID != docID {
		return nil, slides.ErrDeckNotFound
	}
	return s.deck, nil
}

func passageResult(texts ...string) *retrieval.Result {
	chunks := make([]index.ScoredChunk, len(texts))
	for i, t := range texts {
		chunks[i] = index.ScoredChunk{
			Chunk: document.Chunk{Seq: i, Page: i + 1, Text: t},
			Score: 0.8,
		}
	}
	return &retrieval.Result{Chunks: chunks, Confidence: 0.8}
}

func newTestManager(transcriber Transcriber, completer Completer, retriever ContextRetriever, decks DeckSource) *Manager {
	return NewManager(transcriber, completer, retriever, decks, nil, config.VoiceConfig{
		SessionIdleTTL:  15 * time.Minute,
		MaxHistoryTurns: 10,
	}, observability.Discard())
}

func TestManager_TurnAnswersAndAppendsHistory(t *testing.T) {
	transcriber := &stubTranscriber{transcripts: map[string]string{"q1": "What is chapter two about?"}}
	completer := &stubCompleter{answer: "Chapter two covers thermodynamics."}
	retriever := &stubRetriever{result: passageResult("chapter two discusses heat", "heat flows downhill")}

	m := newTestManager(transcriber, completer, retriever, nil)
	sess := m.CreateSession(uuid.New())

	result, err := m.Turn(context.Background(), sess.ID(), []byte("q1"), "q.webm")
	require.NoError(t, err)

	assert.Equal(t, "What is chapter two about?", result.Transcript)
	assert.Equal(t, "Chapter two covers thermodynamics.", result.Answer)
	assert.True(t, result.Grounded)
	assert.False(t, result.NoInput)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)

	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, "What is chapter two about?", history[0].Question)
	assert.Equal(t, []int{0, 1}, history[0].ChunkSeqs,
		"the turn must record which chunks grounded the answer")
	assert.Equal(t, StateIdle, sess.State())
}

func TestManager_NoInputLeavesHistoryUntouched(t *testing.T) {
	transcriber := &stubTranscriber{transcripts: map[string]string{}}
	completer := &stubCompleter{answer: "unused"}
	retriever := &stubRetriever{result: passageResult("text")}

	m := newTestManager(transcriber, completer, retriever, nil)
	sess := m.CreateSession(uuid.New())

	result, err := m.Turn(context.Background(), sess.ID(), []byte("silence"), "q.webm")
	require.NoError(t, err)

	assert.True(t, result.NoInput)
	assert.Equal(t, noInputPrompt, result.Answer)
	assert.Empty(t, result.Transcript)
	assert.Empty(t, sess.History(), "a no-input turn must not append to history")
	assert.Empty(t, completer.prompts, "a no-input turn must not reach the generation step")
	assert.Equal(t, StateIdle, sess.State())
}

func TestManager_NoRelevantContextFallsBack(t *testing.T) {
	transcriber := &stubTranscriber{transcripts: map[string]string{"q": "who won the world cup?"}}
	completer := &stubCompleter{answer: "unused"}
	retriever := &stubRetriever{err: retrieval.ErrNoRelevantContext}

	m := newTestManager(transcriber, completer, retriever, nil)
	sess := m.CreateSession(uuid.New())

	result, err := m.Turn(context.Background(), sess.ID(), []byte("q"), "q.webm")
	require.NoError(t, err, "an off-document question is a fallback, not an error")

	assert.Equal(t, noContextMessage, result.Answer)
	assert.False(t, result.Grounded)
	assert.Empty(t, completer.prompts)

	history := sess.History()
	require.Len(t, history, 1, "the exchange still lands in history")
	assert.Equal(t, noContextMessage, history[0].Answer)
	assert.Empty(t, history[0].ChunkSeqs, "a scripted answer is grounded on nothing")
}

func TestManager_SlideContextBiasesRetrieval(t *testing.T) {
	docID := uuid.New()
	deck := &slides.Deck{
		DocumentID:  docID,
		GeneratedAt: time.Now(),
		Slides: []slides.Slide{
			{SlideNumber: 1, Title: "Intro", Content: "Overview", SpeakerNotes: "notes", SourcePages: []int{2, 3}},
		},
	}
	transcriber := &stubTranscriber{transcripts: map[string]string{"q": "what does this slide mean?"}}
	completer := &stubCompleter{answer: "It summarizes the introduction."}
	retriever := &stubRetriever{result: passageResult("introduction text")}

	m := newTestManager(transcriber, completer, retriever, &stubDecks{deck: deck})
	sess := m.CreateSession(docID)
	sess.SetSlide(1)

	_, err := m.Turn(context.Background(), sess.ID(), []byte("q"), "q.webm")
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, retriever.lastOpts.SlidePages,
		"retrieval must be biased toward the viewed slide's source pages")

	require.NotEmpty(t, completer.prompts)
	assert.Contains(t, completer.prompts[0].User, "Intro",
		"the answer prompt should carry the slide context")
}

func TestManager_SessionIsolation(t *testing.T) {
	transcriber := &stubTranscriber{transcripts: map[string]string{
		"a": "question from session A",
		"b": "question from session B",
	}}
	completer := &stubCompleter{answer: "an answer"}
	retriever := &stubRetriever{result: passageResult("text")}

	m := newTestManager(transcriber, completer, retriever, nil)
	sessA := m.CreateSession(uuid.New())
	sessB := m.CreateSession(uuid.New())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.Turn(context.Background(), sessA.ID(), []byte("a"), "a.webm")
			if err != nil {
				assert.ErrorIs(t, err, ErrSessionBusy)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := m.Turn(context.Background(), sessB.ID(), []byte("b"), "b.webm")
			if err != nil {
				assert.ErrorIs(t, err, ErrSessionBusy)
			}
		}()
		wg.Wait()
	}

	for _, turn := range sessA.History() {
		assert.Equal(t, "question from session A", turn.Question)
	}
	for _, turn := range sessB.History() {
		assert.Equal(t, "question from session B", turn.Question)
	}
	assert.NotEmpty(t, sessA.History())
	assert.NotEmpty(t, sessB.History())
}

func TestManager_HistoryTrimmedToRecentTurns(t *testing.T) {
	transcriber := &stubTranscriber{transcripts: map[string]string{}}
	completer := &stubCompleter{answer: "an answer"}
	retriever := &stubRetriever{result: passageResult("text")}

	m := NewManager(transcriber, completer, retriever, nil, nil, config.VoiceConfig{
		SessionIdleTTL:  15 * time.Minute,
		MaxHistoryTurns: 3,
	}, observability.Discard())
	sess := m.CreateSession(uuid.New())

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("q%d", i)
		transcriber.transcripts[key] = "question " + key
		_, err := m.Turn(context.Background(), sess.ID(), []byte(key), "q.webm")
		require.NoError(t, err)
	}

	history := sess.History()
	require.Len(t, history, 3)
	assert.Equal(t, "question q2", history[0].Question)
	assert.Equal(t, "question q4", history[2].Question)
}

func TestManager_IdleSessionExpiresOnAccess(t *testing.T) {
	m := newTestManager(&stubTranscriber{}, &stubCompleter{}, &stubRetriever{}, nil)
	sess := m.CreateSession(uuid.New())

	m.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	_, err := m.Session(sess.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = m.Turn(context.Background(), sess.ID(), []byte("q"), "q.webm")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_Clear(t *testing.T) {
	m := newTestManager(&stubTranscriber{}, &stubCompleter{}, &stubRetriever{}, nil)
	sess := m.CreateSession(uuid.New())

	require.NoError(t, m.Clear(sess.ID()))
	assert.Equal(t, StateClosed, sess.State())

	_, err := m.Session(sess.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.NoError(t, m.Clear(sess.ID()), "a retried clear must acknowledge, not fail")
	assert.NoError(t, m.Clear("never-existed"))
}

func TestSession_SecondTurnWhileBusy(t *testing.T) {
	sess := newSession("s1", uuid.New(), 10)

	require.NoError(t, sess.beginTurn())
	assert.ErrorIs(t, sess.beginTurn(), ErrSessionBusy)

	sess.endTurn(nil)
	assert.NoError(t, sess.beginTurn())
}
