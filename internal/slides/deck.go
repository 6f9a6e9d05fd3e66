// Package slides generates narrated slide decks from retrieved document
// context and publishes them atomically.
package slides

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSlideGenerationFailed indicates deck generation failed after retries.
// The previously published deck, if any, is left untouched.
var ErrSlideGenerationFailed = errors.New("slide generation failed")

// ErrDeckNotFound indicates no deck has been generated for the document.
var ErrDeckNotFound = errors.New("deck not found")

// Slide is one presentation slide with its narration.
type Slide struct {
	SlideNumber      int    `json:"slide_number"`
	Title            string `json:"title"`
	Content          string `json:"content"`
	SpeakerNotes     string `json:"speaker_notes"`
	ImageDescription string `json:"image_description"`
	FigurePage       int    `json:"figure_page,omitempty"`
	SourcePages      []int  `json:"source_pages,omitempty"`
}

// Narration returns the text used for voice synthesis. Committed decks always
// carry non-empty speaker notes, but the title fallback keeps this total.
func (s Slide) Narration() string {
	if strings.TrimSpace(s.SpeakerNotes) != "" {
		return s.SpeakerNotes
	}
	return s.Title + ". " + s.Content
}

// Deck is an ordered slide deck for one document.
type Deck struct {
	DocumentID  uuid.UUID `json:"document_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Slides      []Slide   `json:"slides"`
}

// Validate enforces the deck invariants: 1-based contiguous slide numbers and
// non-empty narration on every slide.
func (d *Deck) Validate() error {
	if len(d.Slides) == 0 {
		return fmt.Errorf("%w: deck has no slides", ErrSlideGenerationFailed)
	}
	for i, s := range d.Slides {
		if s.SlideNumber != i+1 {
			return fmt.Errorf("%w: slide %d has number %d", ErrSlideGenerationFailed, i+1, s.SlideNumber)
		}
		if strings.TrimSpace(s.SpeakerNotes) == "" {
			return fmt.Errorf("%w: slide %d has empty narration", ErrSlideGenerationFailed, s.SlideNumber)
		}
	}
	return nil
}

// Slide returns the slide with the given 1-based number.
func (d *Deck) Slide(n int) (*Slide, error) {
	if n < 1 || n > len(d.Slides) {
		return nil, fmt.Errorf("%w: slide %d of %d", ErrDeckNotFound, n, len(d.Slides))
	}
	return &d.Slides[n-1], nil
}

// DeckStore publishes decks atomically: a reader sees the previous deck or
// the complete new one, never a partially replaced deck.
type DeckStore struct {
	mu    sync.RWMutex
	decks map[uuid.UUID]*Deck
}

// NewDeckStore creates an empty store.
func NewDeckStore() *DeckStore {
	return &DeckStore{decks: make(map[uuid.UUID]*Deck)}
}

// Replace validates the deck and swaps it in atomically.
func (s *DeckStore) Replace(deck *Deck) error {
	if err := deck.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.decks[deck.DocumentID] = deck
	s.mu.Unlock()
	return nil
}

// Get returns the current deck for a document.
func (s *DeckStore) Get(docID uuid.UUID) (*Deck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deck, ok := s.decks[docID]
	if !ok {
		return nil, ErrDeckNotFound
	}
	return deck, nil
}

// Delete removes the deck for a document, if any.
func (s *DeckStore) Delete(docID uuid.UUID) {
	s.mu.Lock()
	delete(s.decks, docID)
	s.mu.Unlock()
}
