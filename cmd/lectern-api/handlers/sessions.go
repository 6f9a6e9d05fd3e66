package handlers

import (
	"encoding/base64"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lectern-ai/lectern/internal/observability"
	"github.com/lectern-ai/lectern/internal/pipeline"
)

// SessionHandler handles voice session lifecycle and turns.
type SessionHandler struct {
	logger  *observability.Logger
	service *pipeline.Service
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(logger *observability.Logger, service *pipeline.Service) *SessionHandler {
	return &SessionHandler{logger: logger, service: service}
}

// TurnResponseDTO is the API shape of one voice exchange. Audio travels
// base64-encoded inside the JSON body.
type TurnResponseDTO struct {
	SessionID   string  `json:"sessionId"`
	Transcript  string  `json:"transcript"`
	Answer      string  `json:"answer"`
	AudioBase64 string  `json:"audioBase64,omitempty"`
	NoInput     bool    `json:"noInput"`
	Grounded    bool    `json:"grounded"`
	Confidence  float64 `json:"confidence"`
}

// Create handles POST /documents/{docID}/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(chi.URLParam(r, "docID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
		return
	}

	sess, err := h.service.CreateSession(docID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"sessionId":  sess.ID(),
		"documentId": docID.String(),
	})
}

// Turn handles POST /sessions/{sessionID}/turns. The spoken audio arrives as
// multipart form data under "audio", with an optional "slide" field naming
// the slide the user is viewing.
func (h *SessionHandler) Turn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'audio' is required", err.Error())
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio", err.Error())
		return
	}

	slideNumber := 0
	if v := r.FormValue("slide"); v != "" {
		if slideNumber, err = strconv.Atoi(v); err != nil || slideNumber < 0 {
			writeError(w, http.StatusBadRequest, "invalid slide number", "")
			return
		}
	}

	result, err := h.service.VoiceTurn(r.Context(), sessionID, audio, header.Filename, slideNumber)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Voice turn failed")
		writeFailure(w, err)
		return
	}

	dto := TurnResponseDTO{
		SessionID:  result.SessionID,
		Transcript: result.Transcript,
		Answer:     result.Answer,
		NoInput:    result.NoInput,
		Grounded:   result.Grounded,
		Confidence: result.Confidence,
	}
	if len(result.Audio) > 0 {
		dto.AudioBase64 = base64.StdEncoding.EncodeToString(result.Audio)
	}

	writeJSON(w, http.StatusOK, dto)
}

// Clear handles DELETE /sessions/{sessionID}.
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.service.ClearSession(sessionID); err != nil {
		writeFailure(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
