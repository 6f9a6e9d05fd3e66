package slides

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lectern-ai/lectern/internal/document"
	"github.com/lectern-ai/lectern/internal/gateway"
	"github.com/lectern-ai/lectern/internal/observability"
	"github.com/lectern-ai/lectern/internal/retrieval"
)

// Completer produces a completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt gateway.Prompt) (string, error)
}

// ContextRetriever fetches document passages relevant to a topic.
type ContextRetriever interface {
	Retrieve(ctx context.Context, docID, question string, opts retrieval.Options) (*retrieval.Result, error)
}

// Config tunes deck generation.
type Config struct {
	// MinSlides and MaxSlides bound the deck size.
	MinSlides int `yaml:"min_slides"`
	MaxSlides int `yaml:"max_slides"`
	// MaxConcurrent bounds the per-slide generation fan-out.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// DefaultConfig returns the default deck bounds.
func DefaultConfig() Config {
	return Config{
		MinSlides:     4,
		MaxSlides:     8,
		MaxConcurrent: 4,
	}
}

// Generator builds slide decks topic by topic, fanning out one generation
// call per slide.
type Generator struct {
	completer Completer
	retriever ContextRetriever
	config    Config
	logger    *observability.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(completer Completer, retriever ContextRetriever, cfg Config, logger *observability.Logger) *Generator {
	def := DefaultConfig()
	if cfg.MinSlides <= 0 {
		cfg.MinSlides = def.MinSlides
	}
	if cfg.MaxSlides < cfg.MinSlides {
		cfg.MaxSlides = def.MaxSlides
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	return &Generator{
		completer: completer,
		retriever: retriever,
		config:    cfg,
		logger:    logger.WithComponent("slides"),
	}
}

// Generate builds a complete deck for the document. Either every slide is
// generated and validated, or an error is returned and no deck is produced.
func (g *Generator) Generate(ctx context.Context, doc *document.Document) (*Deck, error) {
	topics := g.deriveTopics(doc)
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: no topics could be derived", ErrSlideGenerationFailed)
	}

	title := doc.Filename
	if doc.Summary != nil && doc.Summary.Title != "" {
		title = doc.Summary.Title
	}

	start := time.Now()
	slideSlots := make([]Slide, len(topics))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.config.MaxConcurrent)
	for i, topic := range topics {
		group.Go(func() error {
			slide, err := g.generateSlide(gctx, doc, title, topic, i+1, len(topics))
			if err != nil {
				return err
			}
			slideSlots[i] = *slide
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		g.logger.Error().Err(err).Str("document_id", doc.ID.String()).Msg("Deck generation aborted")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSlideGenerationFailed, err)
	}

	deck := &Deck{
		DocumentID:  doc.ID,
		GeneratedAt: time.Now().UTC(),
		Slides:      slideSlots,
	}
	if err := deck.Validate(); err != nil {
		return nil, err
	}

	g.logger.Info().
		Str("document_id", doc.ID.String()).
		Int("slides", len(deck.Slides)).
		Dur("duration", time.Since(start)).
		Msg("Deck generated")
	return deck, nil
}

// generateSlide retrieves topic context and asks for one slide, retrying once
// when the response fails validation.
func (g *Generator) generateSlide(ctx context.Context, doc *document.Document, title, topic string, number, total int) (*Slide, error) {
	passages, pages := g.topicContext(ctx, doc, topic)
	prompt := gateway.SlidePrompt(title, topic, number, total, passages)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := g.completer.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", number, err)
		}

		slide, err := parseSlide(raw)
		if err != nil {
			lastErr = err
			g.logger.Warn().
				Int("slide", number).
				Int("attempt", attempt+1).
				Err(err).
				Msg("Slide response failed validation, retrying")
			continue
		}

		slide.SlideNumber = number
		slide.SourcePages = pages
		return slide, nil
	}
	return nil, fmt.Errorf("slide %d: %w", number, lastErr)
}

// topicContext returns the passages grounding a topic. When retrieval finds
// nothing relevant the document abstract stands in, so a thin topic still
// yields a slide instead of failing the deck.
func (g *Generator) topicContext(ctx context.Context, doc *document.Document, topic string) ([]string, []int) {
	result, err := g.retriever.Retrieve(ctx, doc.ID.String(), topic, retrieval.Options{})
	if err != nil {
		if !errors.Is(err, retrieval.ErrNoRelevantContext) {
			g.logger.Warn().Str("topic", topic).Err(err).Msg("Topic retrieval failed, falling back to summary")
		}
		if doc.Summary != nil && doc.Summary.Abstract != "" {
			return []string{doc.Summary.Abstract}, nil
		}
		return nil, nil
	}

	passages := make([]string, 0, len(result.Chunks))
	seen := make(map[int]bool)
	var pages []int
	for _, c := range result.Chunks {
		passages = append(passages, c.Chunk.Text)
		if c.Chunk.Page > 0 && !seen[c.Chunk.Page] {
			seen[c.Chunk.Page] = true
			pages = append(pages, c.Chunk.Page)
		}
	}
	return passages, pages
}

// deriveTopics prefers the summary's main topics and falls back to seeding
// topics from the chunk embeddings when the summary is missing or thin.
func (g *Generator) deriveTopics(doc *document.Document) []string {
	var topics []string
	if doc.Summary != nil {
		for _, t := range doc.Summary.MainTopics {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	if len(topics) < g.config.MinSlides && doc.Summary != nil {
		for _, p := range doc.Summary.KeyPoints {
			if len(topics) >= g.config.MinSlides {
				break
			}
			if p = strings.TrimSpace(p); p != "" && !containsFold(topics, p) {
				topics = append(topics, p)
			}
		}
	}

	if len(topics) == 0 {
		topics = seedTopics(doc.Chunks, g.config.MinSlides)
	}

	if len(topics) > g.config.MaxSlides {
		topics = topics[:g.config.MaxSlides]
	}
	return topics
}

// seedTopics picks spread-out chunks by farthest-point selection over the
// embeddings and uses their leading words as topic labels. Selection is
// deterministic: it always starts from the first chunk.
func seedTopics(chunks []document.Chunk, n int) []string {
	embedded := make([]document.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) > 0 && strings.TrimSpace(c.Text) != "" {
			embedded = append(embedded, c)
		}
	}
	if len(embedded) == 0 {
		return nil
	}
	if n > len(embedded) {
		n = len(embedded)
	}

	selected := []int{0}
	for len(selected) < n {
		best, bestDist := -1, -1.0
		for i := range embedded {
			if containsInt(selected, i) {
				continue
			}
			// Distance to the nearest already-selected seed.
			nearest := 2.0
			for _, s := range selected {
				if d := cosineDistance(embedded[i].Embedding, embedded[s].Embedding); d < nearest {
					nearest = d
				}
			}
			if nearest > bestDist {
				best, bestDist = i, nearest
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, best)
	}

	topics := make([]string, 0, len(selected))
	for _, i := range selected {
		topics = append(topics, topicLabel(embedded[i].Text))
	}
	return topics
}

func topicLabel(text string) string {
	words := strings.Fields(text)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	// Embeddings are stored normalized, so the dot product is the cosine.
	return 1.0 - dot
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsFold(xs []string, x string) bool {
	for _, v := range xs {
		if strings.EqualFold(v, x) {
			return true
		}
	}
	return false
}

// parseSlide decodes a model response into a Slide and checks the fields a
// usable slide cannot do without.
func parseSlide(raw string) (*Slide, error) {
	var slide Slide
	if err := gateway.DecodeJSON(raw, &slide); err != nil {
		return nil, err
	}

	if strings.TrimSpace(slide.Title) == "" {
		return nil, errors.New("slide response missing title")
	}
	if strings.TrimSpace(slide.Content) == "" {
		return nil, errors.New("slide response missing content")
	}
	if strings.TrimSpace(slide.SpeakerNotes) == "" {
		return nil, errors.New("slide response missing speaker notes")
	}
	return &slide, nil
}
