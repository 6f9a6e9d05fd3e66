// Package extract provides PDF text extraction using go-fitz.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// ErrExtractionFailed indicates the PDF could not be read or yielded no text.
var ErrExtractionFailed = errors.New("extraction failed")

// PageText holds the plain text of a single page.
type PageText struct {
	Page int // 1-based
	Text string
}

// Extractor converts PDF bytes into per-page plain text.
type Extractor struct{}

// NewExtractor creates a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the plain text of every page in the document.
func (e *Extractor) Extract(ctx context.Context, pdf []byte) ([]PageText, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrExtractionFailed)
	}

	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: open document: %v", ErrExtractionFailed, err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrExtractionFailed)
	}

	pages := make([]PageText, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrExtractionFailed, i+1, err)
		}

		pages = append(pages, PageText{Page: i + 1, Text: text})
	}

	if allBlank(pages) {
		return nil, fmt.Errorf("%w: document contains no extractable text", ErrExtractionFailed)
	}

	return pages, nil
}

// figureQuality is the JPEG quality for rendered figure pages.
const figureQuality = 85

// RenderPage renders one page of the document as a JPEG image, for serving
// slide figures. The page number is 1-based.
func (e *Extractor) RenderPage(ctx context.Context, pdf []byte, page int) ([]byte, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrExtractionFailed)
	}

	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: open document: %v", ErrExtractionFailed, err)
	}
	defer doc.Close()

	if page < 1 || page > doc.NumPage() {
		return nil, fmt.Errorf("%w: page %d of %d", ErrExtractionFailed, page, doc.NumPage())
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img, err := doc.Image(page - 1)
	if err != nil {
		return nil, fmt.Errorf("%w: render page %d: %v", ErrExtractionFailed, page, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: figureQuality}); err != nil {
		return nil, fmt.Errorf("%w: encode page %d: %v", ErrExtractionFailed, page, err)
	}
	return buf.Bytes(), nil
}

func allBlank(pages []PageText) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}
