// Package handlers provides HTTP handlers for the Lectern API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lectern-ai/lectern/internal/document"
	"github.com/lectern-ai/lectern/internal/extract"
	"github.com/lectern-ai/lectern/internal/gateway"
	"github.com/lectern-ai/lectern/internal/index"
	"github.com/lectern-ai/lectern/internal/pipeline"
	"github.com/lectern-ai/lectern/internal/slides"
	"github.com/lectern-ai/lectern/internal/voice"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{"error": message}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

// writeFailure maps a pipeline error to an HTTP status and a specific
// failure reason.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrInvalidDocument), errors.Is(err, index.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
	case errors.Is(err, extract.ErrExtractionFailed):
		writeError(w, http.StatusUnprocessableEntity, "document text could not be extracted", err.Error())
	case errors.Is(err, pipeline.ErrDocumentNotFound),
		errors.Is(err, pipeline.ErrFigureNotFound),
		errors.Is(err, slides.ErrDeckNotFound),
		errors.Is(err, voice.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, voice.ErrSessionBusy):
		writeError(w, http.StatusConflict, "a turn is already in progress", err.Error())
	case errors.Is(err, gateway.ErrGenerationUnavailable),
		errors.Is(err, index.ErrEmbeddingFailure),
		errors.Is(err, slides.ErrSlideGenerationFailed),
		errors.Is(err, voice.ErrTranscriptionFailed),
		errors.Is(err, voice.ErrSynthesisFailed):
		writeError(w, http.StatusBadGateway, "upstream capability unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}
