package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lectern-ai/lectern/internal/observability"
	"github.com/lectern-ai/lectern/internal/pipeline"
	"github.com/lectern-ai/lectern/internal/slides"
)

// SlideHandler handles deck generation, slide lookup, and narration audio.
type SlideHandler struct {
	logger  *observability.Logger
	service *pipeline.Service
}

// NewSlideHandler creates a new slide handler.
func NewSlideHandler(logger *observability.Logger, service *pipeline.Service) *SlideHandler {
	return &SlideHandler{logger: logger, service: service}
}

// DeckDTO is the API shape of a slide deck.
type DeckDTO struct {
	DocumentID  string         `json:"documentId"`
	GeneratedAt string         `json:"generatedAt"`
	Slides      []slides.Slide `json:"slides"`
}

// Generate handles POST /documents/{docID}/slides.
func (h *SlideHandler) Generate(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}

	deck, err := h.service.GenerateSlides(r.Context(), docID)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", docID.String()).Msg("Deck generation failed")
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDeckDTO(deck))
}

// GetDeck handles GET /documents/{docID}/slides.
func (h *SlideHandler) GetDeck(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}

	deck, err := h.service.GetSlides(docID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDeckDTO(deck))
}

// GetSlide handles GET /documents/{docID}/slides/{n}.
func (h *SlideHandler) GetSlide(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	n, ok := h.slideNumber(w, r)
	if !ok {
		return
	}

	slide, err := h.service.GetSlide(docID, n)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, slide)
}

// Narration handles POST /documents/{docID}/slides/{n}/narration and
// responds with the synthesized audio.
func (h *SlideHandler) Narration(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	n, ok := h.slideNumber(w, r)
	if !ok {
		return
	}

	audio, err := h.service.SlideAudio(r.Context(), docID, n)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", docID.String()).Int("slide", n).Msg("Narration failed")
		writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.Write(audio)
}

func (h *SlideHandler) docID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	docID, err := uuid.Parse(chi.URLParam(r, "docID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
		return uuid.Nil, false
	}
	return docID, true
}

func (h *SlideHandler) slideNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "invalid slide number", "")
		return 0, false
	}
	return n, true
}

func toDeckDTO(deck *slides.Deck) DeckDTO {
	return DeckDTO{
		DocumentID:  deck.DocumentID.String(),
		GeneratedAt: deck.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"),
		Slides:      deck.Slides,
	}
}
