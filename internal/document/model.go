// Package document holds the core document model and the chunker.
package document

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidDocument indicates the caller supplied an empty or unusable document.
var ErrInvalidDocument = errors.New("invalid document")

// Document is the unit the pipeline operates on. One active document exists
// per upload; a new upload replaces it wholesale.
type Document struct {
	ID        uuid.UUID
	Filename  string
	Text      string
	PageCount int
	Chunks    []Chunk
	Summary   *Summary // nil until computed
	CreatedAt time.Time
}

// Chunk is a contiguous passage of the document used as the retrieval unit.
// Chunks are dense in Seq but may overlap in underlying character ranges.
type Chunk struct {
	Seq       int
	Text      string
	Page      int // source-page hint, 1-based
	Embedding []float32
}

// Summary is the generated document overview used for slide topics and
// conversational context.
type Summary struct {
	Title             string   `json:"title"`
	Abstract          string   `json:"abstract"`
	KeyPoints         []string `json:"key_points"`
	MainTopics        []string `json:"main_topics"`
	DifficultyLevel   string   `json:"difficulty_level"`
	EstimatedReadTime string   `json:"estimated_read_time"`
	DocumentType      string   `json:"document_type"`
	Authors           []string `json:"authors"`
}
