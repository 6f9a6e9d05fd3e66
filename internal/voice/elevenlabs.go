package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lectern-ai/lectern/internal/audiocache"
	"github.com/lectern-ai/lectern/internal/config"
	"github.com/lectern-ai/lectern/internal/gateway"
	"github.com/lectern-ai/lectern/internal/observability"
)

var (
	// ErrTranscriptionFailed indicates speech-to-text failed after retries.
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrSynthesisFailed indicates text-to-speech failed after retries.
	ErrSynthesisFailed = errors.New("synthesis failed")
)

// SpeechClient talks to the ElevenLabs API for transcription and synthesis.
// It implements audiocache.Synthesizer.
type SpeechClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	sttModel   string
	retry      gateway.RetryPolicy
	logger     *observability.Logger
}

// NewSpeechClient creates a SpeechClient from voice configuration.
func NewSpeechClient(cfg config.VoiceConfig, logger *observability.Logger) *SpeechClient {
	return &SpeechClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		sttModel:   "scribe_v1",
		retry:      gateway.DefaultRetryPolicy(),
		logger:     logger.WithComponent("speech"),
	}
}

type transcriptResponse struct {
	Text string `json:"text"`
}

// Transcribe converts spoken audio to text. An empty transcript is not an
// error: silence and unintelligible audio both come back as "".
func (c *SpeechClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	if filename == "" {
		filename = "audio.webm"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if err := writer.WriteField("model_id", c.sttModel); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	body := buf.Bytes()

	start := time.Now()
	resp, err := c.retry.Do(ctx, c.logger, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/speech-to-text", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("xi-api-key", c.apiKey)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrTranscriptionFailed, resp.StatusCode, detail)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrTranscriptionFailed, err)
	}

	var transcript transcriptResponse
	if err := json.Unmarshal(data, &transcript); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTranscriptionFailed, err)
	}

	c.logger.Debug().
		Int("audio_bytes", len(audio)).
		Int("transcript_chars", len(transcript.Text)).
		Dur("elapsed", time.Since(start)).
		Msg("Transcription finished")

	return transcript.Text, nil
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to spoken audio (MPEG bytes).
func (c *SpeechClient) Synthesize(ctx context.Context, text string, params audiocache.VoiceParams) ([]byte, error) {
	reqBody, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: params.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       params.Stability,
			SimilarityBoost: params.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	start := time.Now()
	resp, err := c.retry.Do(ctx, c.logger, func() (*http.Response, error) {
		url := c.baseURL + "/text-to-speech/" + params.VoiceID
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")
		req.Header.Set("xi-api-key", c.apiKey)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrSynthesisFailed, resp.StatusCode, detail)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSynthesisFailed, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio response", ErrSynthesisFailed)
	}

	c.logger.Debug().
		Int("text_chars", len(text)).
		Int("audio_bytes", len(audio)).
		Dur("elapsed", time.Since(start)).
		Msg("Synthesis finished")

	return audio, nil
}
