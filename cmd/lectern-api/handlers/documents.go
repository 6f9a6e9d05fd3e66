package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lectern-ai/lectern/internal/document"
	"github.com/lectern-ai/lectern/internal/observability"
	"github.com/lectern-ai/lectern/internal/pipeline"
)

// DocumentHandler handles document upload and lookup.
type DocumentHandler struct {
	logger         *observability.Logger
	service        *pipeline.Service
	maxUploadBytes int64
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(logger *observability.Logger, service *pipeline.Service, maxUploadBytes int64) *DocumentHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &DocumentHandler{
		logger:         logger,
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

// DocumentDTO is the API shape of an ingested document.
type DocumentDTO struct {
	ID        string            `json:"id"`
	Filename  string            `json:"filename"`
	PageCount int               `json:"pageCount"`
	Chunks    int               `json:"chunks"`
	Summary   *document.Summary `json:"summary,omitempty"`
	CreatedAt string            `json:"createdAt"`
}

// Upload handles POST /documents. The PDF arrives as multipart form data
// under the "file" field.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required", err.Error())
		return
	}
	defer file.Close()

	pdf, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload", err.Error())
		return
	}

	doc, err := h.service.Upload(r.Context(), header.Filename, pdf)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", header.Filename).Msg("Document upload failed")
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDocumentDTO(doc))
}

// Get handles GET /documents/{docID}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(chi.URLParam(r, "docID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
		return
	}

	doc, err := h.service.Document(docID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// Figure handles GET /documents/{docID}/figures/{page}, serving the rendered
// source page a slide refers to.
func (h *DocumentHandler) Figure(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(chi.URLParam(r, "docID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id", err.Error())
		return
	}

	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "invalid page number", "")
		return
	}

	img, err := h.service.Figure(r.Context(), docID, page)
	if err != nil {
		writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

func toDocumentDTO(doc *document.Document) DocumentDTO {
	return DocumentDTO{
		ID:        doc.ID.String(),
		Filename:  doc.Filename,
		PageCount: doc.PageCount,
		Chunks:    len(doc.Chunks),
		Summary:   doc.Summary,
		CreatedAt: doc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
