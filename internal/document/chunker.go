package document

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/lectern-ai/lectern/internal/extract"
)

// Chunker splits extracted page text into overlapping passages.
// Boundaries are word-aligned and fully determined by the input and the
// configured sizes.
type Chunker struct {
	size    int // target chunk length in characters
	overlap int // characters shared between neighbouring chunks
}

// NewChunker creates a Chunker. Invalid sizes fall back to defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 6
	}
	return &Chunker{size: size, overlap: overlap}
}

type wordSpan struct {
	start, end int
}

// Chunk produces the ordered chunk list covering the full text.
func (c *Chunker) Chunk(pages []extract.PageText) ([]Chunk, error) {
	text, pageStarts := joinPages(pages)

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: no text to chunk", ErrInvalidDocument)
	}

	words := splitWords(text)

	var chunks []Chunk
	i := 0
	for i < len(words) {
		j := i + 1
		for j < len(words) && words[j].end-words[i].start <= c.size {
			j++
		}

		start := words[i].start
		end := words[j-1].end
		chunks = append(chunks, Chunk{
			Seq:  len(chunks),
			Text: text[start:end],
			Page: pageForOffset(pageStarts, start),
		})

		if j >= len(words) {
			break
		}

		// Step back so the next chunk re-covers the overlap tail.
		next := j
		target := end - c.overlap
		for next > i+1 && words[next-1].start >= target {
			next--
		}
		i = next
	}

	return chunks, nil
}

// joinPages concatenates page text and records where each page begins in the
// combined string.
func joinPages(pages []extract.PageText) (string, []int) {
	var b strings.Builder
	starts := make([]int, len(pages))
	for i, p := range pages {
		starts[i] = b.Len()
		b.WriteString(p.Text)
		if !strings.HasSuffix(p.Text, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), starts
}

func splitWords(text string) []wordSpan {
	var spans []wordSpan
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, wordSpan{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, wordSpan{start: start, end: len(text)})
	}
	return spans
}

func pageForOffset(pageStarts []int, offset int) int {
	page := 1
	for i, s := range pageStarts {
		if offset >= s {
			page = i + 1
		}
	}
	return page
}
