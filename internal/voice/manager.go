package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lectern-ai/lectern/internal/audiocache"
	"github.com/lectern-ai/lectern/internal/config"
	"github.com/lectern-ai/lectern/internal/gateway"
	"github.com/lectern-ai/lectern/internal/observability"
	"github.com/lectern-ai/lectern/internal/retrieval"
	"github.com/lectern-ai/lectern/internal/slides"
)

// Scripted responses for turns that cannot reach the generation step.
const (
	noInputPrompt    = "I didn't catch that. Could you repeat your question?"
	noContextMessage = "I couldn't find anything about that in this document. Try rephrasing, or ask about another part of the material."
)

// Transcriber converts spoken audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Completer produces a completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt gateway.Prompt) (string, error)
}

// ContextRetriever fetches document passages relevant to a question.
type ContextRetriever interface {
	Retrieve(ctx context.Context, docID, question string, opts retrieval.Options) (*retrieval.Result, error)
}

// DeckSource resolves the published deck for a document.
type DeckSource interface {
	Get(docID uuid.UUID) (*slides.Deck, error)
}

// TurnResult is the outcome of one voice turn.
type TurnResult struct {
	SessionID  string  `json:"session_id"`
	Transcript string  `json:"transcript"`
	Answer     string  `json:"answer"`
	Audio      []byte  `json:"-"`
	NoInput    bool    `json:"no_input"`
	Grounded   bool    `json:"grounded"`
	Confidence float64 `json:"confidence"`
}

// Manager owns the voice sessions and drives each turn through transcription,
// retrieval, answering, and synthesis.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	transcriber Transcriber
	completer   Completer
	retriever   ContextRetriever
	decks       DeckSource
	audio       *audiocache.Cache
	voiceParams audiocache.VoiceParams
	idleTTL     time.Duration
	maxHistory  int
	logger      *observability.Logger
	now         func() time.Time
}

// NewManager creates a Manager.
func NewManager(
	transcriber Transcriber,
	completer Completer,
	retriever ContextRetriever,
	decks DeckSource,
	audio *audiocache.Cache,
	cfg config.VoiceConfig,
	logger *observability.Logger,
) *Manager {
	ttl := cfg.SessionIdleTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	maxHistory := cfg.MaxHistoryTurns
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		transcriber: transcriber,
		completer:   completer,
		retriever:   retriever,
		decks:       decks,
		audio:       audio,
		voiceParams: audiocache.VoiceParams{
			VoiceID:         cfg.VoiceID,
			ModelID:         cfg.ModelID,
			Stability:       cfg.Stability,
			SimilarityBoost: cfg.SimilarityBoost,
		},
		idleTTL:    ttl,
		maxHistory: maxHistory,
		logger:     logger.WithComponent("voice"),
		now:        time.Now,
	}
}

// CreateSession opens a new session bound to a document.
func (m *Manager) CreateSession(documentID uuid.UUID) *Session {
	sess := newSession(uuid.NewString(), documentID, m.maxHistory)

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	m.logger.Info().
		Str("session_id", sess.id).
		Str("document_id", documentID.String()).
		Msg("Voice session created")
	return sess
}

// Session returns a live session. Expiry is checked on access: an idle
// session past its TTL is removed and reported as not found.
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.expired(m.idleTTL, m.now()) {
		sess.close()
		delete(m.sessions, id)
		m.logger.Debug().Str("session_id", id).Msg("Voice session expired")
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Clear closes and removes a session. Clearing an unknown or already-cleared
// session acknowledges without error, so a retried clear is safe.
func (m *Manager) Clear(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	sess.close()
	m.logger.Info().Str("session_id", id).Msg("Voice session cleared")
	return nil
}

// Turn runs one spoken exchange: transcribe the audio, retrieve grounding
// context, answer, and synthesize the reply. Silence produces a scripted
// re-prompt without touching the conversation history.
func (m *Manager) Turn(ctx context.Context, sessionID string, audio []byte, filename string) (*TurnResult, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.beginTurn(); err != nil {
		return nil, err
	}

	result, turn, err := m.runTurn(ctx, sess, audio, filename)
	sess.endTurn(turn)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) runTurn(ctx context.Context, sess *Session, audio []byte, filename string) (*TurnResult, *Turn, error) {
	logger := m.logger.WithSession(sess.id)

	transcript, err := m.transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		return nil, nil, err
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		logger.Debug().Msg("No speech detected in turn audio")
		return m.scriptedResult(ctx, sess, "", noInputPrompt, true), nil, nil
	}

	sess.advance(StateRetrieving)

	slideContext, slidePages := m.slideContext(sess)
	retrieved, err := m.retriever.Retrieve(ctx, sess.DocumentID().String(), transcript, retrieval.Options{
		SlidePages: slidePages,
	})
	if err != nil {
		if errors.Is(err, retrieval.ErrNoRelevantContext) {
			logger.Debug().Str("question", transcript).Msg("No relevant context for question")
			result := m.scriptedResult(ctx, sess, transcript, noContextMessage, false)
			return result, &Turn{Question: transcript, Answer: noContextMessage, AskedAt: m.now()}, nil
		}
		return nil, nil, err
	}

	sess.advance(StateAnswering)

	passages := make([]string, 0, len(retrieved.Chunks))
	chunkSeqs := make([]int, 0, len(retrieved.Chunks))
	for _, c := range retrieved.Chunks {
		passages = append(passages, c.Chunk.Text)
		chunkSeqs = append(chunkSeqs, c.Chunk.Seq)
	}

	answer, err := m.completer.Complete(ctx, gateway.AnswerPrompt(transcript, slideContext, passages, historyLines(sess.History())))
	if err != nil {
		return nil, nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, nil, fmt.Errorf("%w: empty answer", gateway.ErrGenerationUnavailable)
	}

	result := &TurnResult{
		SessionID:  sess.id,
		Transcript: transcript,
		Answer:     answer,
		Grounded:   true,
		Confidence: retrieved.Confidence,
	}
	result.Audio = m.synthesize(ctx, logger, answer)

	return result, &Turn{Question: transcript, Answer: answer, ChunkSeqs: chunkSeqs, AskedAt: m.now()}, nil
}

// scriptedResult wraps a canned message, with audio when synthesis is
// available. Scripted messages hit the audio cache on every repeat.
func (m *Manager) scriptedResult(ctx context.Context, sess *Session, transcript, message string, noInput bool) *TurnResult {
	result := &TurnResult{
		SessionID:  sess.id,
		Transcript: transcript,
		Answer:     message,
		NoInput:    noInput,
	}
	result.Audio = m.synthesize(ctx, m.logger.WithSession(sess.id), message)
	return result
}

// synthesize is best effort: a synthesis failure degrades the turn to text
// only instead of failing it.
func (m *Manager) synthesize(ctx context.Context, logger *observability.Logger, text string) []byte {
	if m.audio == nil {
		return nil
	}
	audio, err := m.audio.GetOrSynthesize(ctx, text, m.voiceParams)
	if err != nil {
		logger.Warn().Err(err).Msg("Answer synthesis failed, returning text only")
		return nil
	}
	return audio
}

// slideContext looks up the slide the user is viewing so the answer can refer
// to it and retrieval can bias toward its source pages.
func (m *Manager) slideContext(sess *Session) (string, []int) {
	n := sess.CurrentSlide()
	if n <= 0 || m.decks == nil {
		return "", nil
	}
	deck, err := m.decks.Get(sess.DocumentID())
	if err != nil {
		return "", nil
	}
	slide, err := deck.Slide(n)
	if err != nil {
		return "", nil
	}
	return fmt.Sprintf("Slide %d: %s\n%s", slide.SlideNumber, slide.Title, slide.Content), slide.SourcePages
}

func historyLines(turns []Turn) []string {
	lines := make([]string, 0, len(turns)*2)
	for _, t := range turns {
		lines = append(lines, "User: "+t.Question, "Assistant: "+t.Answer)
	}
	return lines
}
