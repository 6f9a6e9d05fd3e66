package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TemplateVersion identifies the prompt template set. Bump when any template
// changes so generation behaviour stays reproducible per version.
const TemplateVersion = "v1"

// Prompt is a fully constructed generation request: explicit template plus
// document context, never ad hoc strings scattered across call sites.
type Prompt struct {
	Name        string
	Version     string
	System      string
	User        string
	Temperature float64
}

const summarySystemPrompt = "You are a document analyst. You produce faithful, structured summaries of academic and technical documents. You always answer with a single valid JSON object and nothing else."

const summaryUserTemplate = `Summarize the following document. Return ONLY a JSON object with exactly these keys:

{
  "title": "document title",
  "abstract": "2-4 sentence abstract",
  "key_points": ["list of the most important points"],
  "main_topics": ["3-8 distinct topics covered, in document order"],
  "difficulty_level": "beginner|intermediate|advanced",
  "estimated_read_time": "e.g. 12 minutes",
  "document_type": "research_paper|tutorial|book_chapter|article|report",
  "authors": ["author names if stated, else empty"]
}

DOCUMENT:
%s`

// SummaryPrompt builds the document summary request.
func SummaryPrompt(text string) Prompt {
	return Prompt{
		Name:        "summary",
		Version:     TemplateVersion,
		System:      summarySystemPrompt,
		User:        fmt.Sprintf(summaryUserTemplate, text),
		Temperature: 0.2,
	}
}

const slideSystemPrompt = "You are a presentation author. You turn document passages into clear, engaging teaching slides. You always answer with a single valid JSON object and nothing else."

const slideUserTemplate = `Create slide %d of %d for a presentation about "%s".
The slide covers the topic: %s

Use ONLY the supporting passages below. Return ONLY a JSON object with exactly these keys:

{
  "title": "short slide title",
  "content": "3-5 bullet points, one per line, each starting with a dash",
  "speaker_notes": "60-120 words of natural spoken narration for this slide",
  "image_description": "one sentence describing a fitting visual",
  "figure_page": page number of a source figure to show, or 0 if none
}

speaker_notes must never be empty.

SUPPORTING PASSAGES:
%s`

// SlidePrompt builds a single-slide generation request from retrieved context.
func SlidePrompt(docTitle, topic string, slideNumber, totalSlides int, passages []string) Prompt {
	return Prompt{
		Name:        "slide",
		Version:     TemplateVersion,
		System:      slideSystemPrompt,
		User:        fmt.Sprintf(slideUserTemplate, slideNumber, totalSlides, docTitle, topic, joinPassages(passages)),
		Temperature: 0.7,
	}
}

const answerSystemPrompt = "You are a teaching assistant helping a student understand a document during a narrated presentation. Answer conversationally in 60-120 words. Ground every claim in the provided passages; if they do not cover the question, say so plainly instead of guessing."

const answerUserTemplate = `Student question: %q

CURRENT SLIDE: %s

DOCUMENT PASSAGES:
%s
%s
Answer the question using the passages above, connecting them to the current slide where that helps.`

// AnswerPrompt builds a grounded conversational answer request.
func AnswerPrompt(question, slideContext string, passages []string, history []string) Prompt {
	historySection := ""
	if len(history) > 0 {
		historySection = "RECENT CONVERSATION:\n" + strings.Join(history, "\n") + "\n"
	}
	if slideContext == "" {
		slideContext = "(no slide shown)"
	}
	return Prompt{
		Name:        "answer",
		Version:     TemplateVersion,
		System:      answerSystemPrompt,
		User:        fmt.Sprintf(answerUserTemplate, question, slideContext, joinPassages(passages), historySection),
		Temperature: 0.7,
	}
}

// DecodeJSON decodes a completion that should be a single JSON object,
// tolerating a fenced code block around it.
func DecodeJSON(raw string, v any) error {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimPrefix(cleaned, "json")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("decode completion: %w", err)
	}
	return nil
}

func joinPassages(passages []string) string {
	if len(passages) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(p))
	}
	return b.String()
}
