// Package pipeline wires document ingestion, retrieval, slide generation,
// and voice sessions into one service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lectern-ai/lectern/internal/audiocache"
	"github.com/lectern-ai/lectern/internal/cache"
	"github.com/lectern-ai/lectern/internal/config"
	"github.com/lectern-ai/lectern/internal/document"
	"github.com/lectern-ai/lectern/internal/extract"
	"github.com/lectern-ai/lectern/internal/gateway"
	"github.com/lectern-ai/lectern/internal/index"
	"github.com/lectern-ai/lectern/internal/observability"
	"github.com/lectern-ai/lectern/internal/retrieval"
	"github.com/lectern-ai/lectern/internal/slides"
	"github.com/lectern-ai/lectern/internal/voice"
)

// ErrDocumentNotFound indicates the document is not the active one, either
// because nothing was uploaded yet or a newer upload replaced it.
var ErrDocumentNotFound = errors.New("document not found")

// ErrFigureNotFound indicates the requested figure page does not exist in
// the document.
var ErrFigureNotFound = errors.New("figure not found")

// pdfExtractor is the extraction seam, satisfied by extract.Extractor.
type pdfExtractor interface {
	Extract(ctx context.Context, pdf []byte) ([]extract.PageText, error)
	RenderPage(ctx context.Context, pdf []byte, page int) ([]byte, error)
}

// activeDocument bundles the per-document state that an upload replaces
// wholesale. ctx is cancelled when a newer upload replaces the document, so
// in-flight generation and narration prefetch for it stop.
type activeDocument struct {
	doc       *document.Document
	pdf       []byte
	retriever *retrieval.CachedRetriever

	ctx            context.Context
	cancel         context.CancelFunc
	prefetchCancel context.CancelFunc // guarded by Service.mu
}

// Service owns the active document and drives every operation over it.
type Service struct {
	mu     sync.RWMutex
	active *activeDocument

	extractor pdfExtractor
	chunker   *document.Chunker
	gateway   *gateway.Client
	cacheClnt cache.Client
	decks     *slides.DeckStore
	generator *slides.Generator
	voices    *voice.Manager
	audio     *audiocache.Cache
	cfg       *config.Config
	logger    *observability.Logger
}

// New wires a Service from its collaborators. The cache client may be nil,
// which disables retrieval response caching.
func New(cfg *config.Config, gw *gateway.Client, speech *voice.SpeechClient, cacheClnt cache.Client, logger *observability.Logger) *Service {
	svc := &Service{
		extractor: extract.NewExtractor(),
		chunker:   document.NewChunker(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap),
		gateway:   gw,
		cacheClnt: cacheClnt,
		decks:     slides.NewDeckStore(),
		cfg:       cfg,
		logger:    logger.WithComponent("pipeline"),
	}

	svc.audio = audiocache.New(speech, audiocache.Config{
		MaxBytes:   cfg.AudioCache.MaxBytes,
		MaxEntries: cfg.AudioCache.MaxEntries,
	}, logger)

	// The service itself routes retrieval by document ID, so the generator
	// and voice manager always hit the active document's index.
	svc.generator = slides.NewGenerator(gw, svc, slides.Config{
		MinSlides:     cfg.Slides.MinSlides,
		MaxSlides:     cfg.Slides.MaxSlides,
		MaxConcurrent: cfg.Slides.MaxConcurrent,
	}, logger)
	svc.voices = voice.NewManager(speech, gw, svc, svc.decks, svc.audio, cfg.Voice, logger)

	return svc
}

// Upload ingests a PDF: extract, chunk, build the index, summarize. The new
// document replaces the active one wholesale; background work for the prior
// document is cancelled and its cached state discarded.
func (s *Service) Upload(ctx context.Context, filename string, pdf []byte) (*document.Document, error) {
	start := time.Now()

	pages, err := s.extractor.Extract(ctx, pdf)
	if err != nil {
		return nil, err
	}

	chunks, err := s.chunker.Chunk(pages)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for i, p := range pages {
		if i > 0 {
			text.WriteString("\n")
		}
		text.WriteString(p.Text)
	}

	doc := &document.Document{
		ID:        uuid.New(),
		Filename:  filename,
		Text:      text.String(),
		PageCount: len(pages),
		Chunks:    chunks,
		CreatedAt: time.Now().UTC(),
	}

	idx := index.New(s.gateway)
	if err := idx.Build(ctx, doc.Chunks); err != nil {
		return nil, err
	}

	summary, err := s.summarize(ctx, pages)
	if err != nil {
		return nil, err
	}
	doc.Summary = summary

	retriever := retrieval.NewCachedRetriever(
		retrieval.NewRetriever(idx, retrieval.Config{
			TopK:               s.cfg.Retrieval.TopK,
			RelevanceThreshold: s.cfg.Retrieval.RelevanceThreshold,
			SlideBiasBoost:     s.cfg.Retrieval.SlideBiasBoost,
		}, s.logger),
		s.retrievalCache(),
		s.cfg.Retrieval.CacheTTL,
		s.logger,
	)

	docCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	prior := s.active
	s.active = &activeDocument{doc: doc, pdf: pdf, retriever: retriever, ctx: docCtx, cancel: cancel}
	s.mu.Unlock()

	if prior != nil {
		prior.cancel()
		s.discardDeck(prior.doc.ID)
		prior.retriever.Invalidate(context.WithoutCancel(ctx), prior.doc.ID.String())
	}

	s.logger.Info().
		Str("document_id", doc.ID.String()).
		Str("filename", filename).
		Int("pages", doc.PageCount).
		Int("chunks", len(doc.Chunks)).
		Dur("duration", time.Since(start)).
		Msg("Document ingested")

	return doc, nil
}

// Document returns the active document when it matches the given ID.
func (s *Service) Document(docID uuid.UUID) (*document.Document, error) {
	state, err := s.state(docID)
	if err != nil {
		return nil, err
	}
	return state.doc, nil
}

// Retrieve routes a retrieval request to the active document's index. It
// satisfies the retriever seam of the slide generator and voice manager.
func (s *Service) Retrieve(ctx context.Context, docID, question string, opts retrieval.Options) (*retrieval.Result, error) {
	s.mu.RLock()
	state := s.active
	s.mu.RUnlock()

	if state == nil || state.doc.ID.String() != docID {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	return state.retriever.Retrieve(ctx, docID, question, opts)
}

// GenerateSlides builds a fresh deck for the document and publishes it
// atomically, then pre-synthesizes narration in the background. Generation
// stops as soon as a newer upload replaces the document, and a deck for a
// replaced document is never published.
func (s *Service) GenerateSlides(ctx context.Context, docID uuid.UUID) (*slides.Deck, error) {
	state, err := s.state(docID)
	if err != nil {
		return nil, err
	}

	genCtx, cancelGen := context.WithCancel(ctx)
	defer cancelGen()
	stop := context.AfterFunc(state.ctx, cancelGen)
	defer stop()

	deck, err := s.generator.Generate(genCtx, state.doc)
	if err != nil {
		if state.ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
		}
		return nil, err
	}

	prefetchCtx, prefetchCancel := context.WithCancel(state.ctx)

	s.mu.Lock()
	if s.active != state {
		s.mu.Unlock()
		prefetchCancel()
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	prior, _ := s.decks.Get(docID)
	if err := s.decks.Replace(deck); err != nil {
		s.mu.Unlock()
		prefetchCancel()
		return nil, err
	}
	if state.prefetchCancel != nil {
		state.prefetchCancel()
	}
	state.prefetchCancel = prefetchCancel
	s.mu.Unlock()

	// Regeneration releases the prior deck's narration so the cache holds
	// only audio a client can still request.
	if prior != nil {
		params := s.voiceParams()
		for _, sl := range prior.Slides {
			s.audio.Remove(sl.Narration(), params)
		}
	}

	// Narration warms in the background so the first slide plays without a
	// synthesis round trip.
	go s.PrefetchNarration(prefetchCtx, deck)

	return deck, nil
}

// GetSlides returns the published deck for the document.
func (s *Service) GetSlides(docID uuid.UUID) (*slides.Deck, error) {
	if _, err := s.state(docID); err != nil {
		return nil, err
	}
	return s.decks.Get(docID)
}

// GetSlide returns one slide of the published deck.
func (s *Service) GetSlide(docID uuid.UUID, n int) (*slides.Slide, error) {
	deck, err := s.GetSlides(docID)
	if err != nil {
		return nil, err
	}
	return deck.Slide(n)
}

// Figure renders the given source page of the document as an image, for
// showing slide figures. The page number is 1-based.
func (s *Service) Figure(ctx context.Context, docID uuid.UUID, page int) ([]byte, error) {
	state, err := s.state(docID)
	if err != nil {
		return nil, err
	}
	if page < 1 || page > state.doc.PageCount {
		return nil, fmt.Errorf("%w: page %d of %d", ErrFigureNotFound, page, state.doc.PageCount)
	}
	return s.extractor.RenderPage(ctx, state.pdf, page)
}

// discardDeck removes a document's deck along with its cached narration.
func (s *Service) discardDeck(docID uuid.UUID) {
	deck, err := s.decks.Get(docID)
	if err != nil {
		return
	}
	params := s.voiceParams()
	for _, sl := range deck.Slides {
		s.audio.Remove(sl.Narration(), params)
	}
	s.decks.Delete(docID)
}

// SlideAudio returns the narration audio for a slide, synthesizing through
// the audio cache on first request.
func (s *Service) SlideAudio(ctx context.Context, docID uuid.UUID, n int) ([]byte, error) {
	slide, err := s.GetSlide(docID, n)
	if err != nil {
		return nil, err
	}
	return s.audio.GetOrSynthesize(ctx, slide.Narration(), s.voiceParams())
}

// PrefetchNarration synthesizes narration for every slide with a bounded
// fan-out. Best effort: failures are logged and the deck stays usable.
func (s *Service) PrefetchNarration(ctx context.Context, deck *slides.Deck) {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Slides.MaxConcurrent)

	params := s.voiceParams()
	for _, slide := range deck.Slides {
		group.Go(func() error {
			if _, err := s.audio.GetOrSynthesize(gctx, slide.Narration(), params); err != nil {
				s.logger.Warn().
					Str("document_id", deck.DocumentID.String()).
					Int("slide", slide.SlideNumber).
					Err(err).
					Msg("Narration prefetch failed")
			}
			return nil
		})
	}
	_ = group.Wait()
}

// Ask answers a one-off text question about the document, outside any voice
// session. An off-document question gets a scripted fallback, not an error.
func (s *Service) Ask(ctx context.Context, docID uuid.UUID, question string) (string, float64, error) {
	state, err := s.state(docID)
	if err != nil {
		return "", 0, err
	}

	result, err := state.retriever.Retrieve(ctx, docID.String(), question, retrieval.Options{})
	if err != nil {
		if errors.Is(err, retrieval.ErrNoRelevantContext) {
			return "I couldn't find anything about that in this document.", 0, nil
		}
		return "", 0, err
	}

	passages := make([]string, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		passages = append(passages, c.Chunk.Text)
	}

	answer, err := s.gateway.Complete(ctx, gateway.AnswerPrompt(question, "", passages, nil))
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(answer), result.Confidence, nil
}

// CreateSession opens a voice session over the document.
func (s *Service) CreateSession(docID uuid.UUID) (*voice.Session, error) {
	if _, err := s.state(docID); err != nil {
		return nil, err
	}
	return s.voices.CreateSession(docID), nil
}

// VoiceTurn runs one spoken exchange on a session. A positive slideNumber
// records which slide the user is viewing before the turn runs.
func (s *Service) VoiceTurn(ctx context.Context, sessionID string, audio []byte, filename string, slideNumber int) (*voice.TurnResult, error) {
	if slideNumber > 0 {
		sess, err := s.voices.Session(sessionID)
		if err != nil {
			return nil, err
		}
		sess.SetSlide(slideNumber)
	}
	return s.voices.Turn(ctx, sessionID, audio, filename)
}

// ClearSession closes and removes a voice session.
func (s *Service) ClearSession(sessionID string) error {
	return s.voices.Clear(sessionID)
}

// Close releases background resources.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.active != nil {
		s.active.cancel()
	}
	s.mu.Unlock()

	if s.cacheClnt != nil {
		return s.cacheClnt.Close()
	}
	return nil
}

func (s *Service) state(docID uuid.UUID) (*activeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil || s.active.doc.ID != docID {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	return s.active, nil
}

func (s *Service) retrievalCache() cache.Client {
	if !s.cfg.Retrieval.CacheResults {
		return nil
	}
	return s.cacheClnt
}

func (s *Service) voiceParams() audiocache.VoiceParams {
	return audiocache.VoiceParams{
		VoiceID:         s.cfg.Voice.VoiceID,
		ModelID:         s.cfg.Voice.ModelID,
		Stability:       s.cfg.Voice.Stability,
		SimilarityBoost: s.cfg.Voice.SimilarityBoost,
	}
}

// summarize asks the gateway for the structured document summary. The text
// is capped so oversized documents still fit one summary request.
func (s *Service) summarize(ctx context.Context, pages []extract.PageText) (*document.Summary, error) {
	var b strings.Builder
	for _, p := range pages {
		if b.Len() >= maxSummaryInput {
			break
		}
		b.WriteString(p.Text)
		b.WriteString("\n")
	}
	text := b.String()
	if len(text) > maxSummaryInput {
		text = text[:maxSummaryInput]
	}

	raw, err := s.gateway.Complete(ctx, gateway.SummaryPrompt(text))
	if err != nil {
		return nil, err
	}

	var summary document.Summary
	if err := gateway.DecodeJSON(raw, &summary); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrGenerationUnavailable, err)
	}
	return &summary, nil
}

// maxSummaryInput bounds the document text sent with the summary prompt.
const maxSummaryInput = 48_000
