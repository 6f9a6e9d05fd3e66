package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/lectern-ai/lectern/cmd/lectern/ui"
	"github.com/lectern-ai/lectern/internal/cache"
	"github.com/lectern-ai/lectern/internal/config"
	"github.com/lectern-ai/lectern/internal/document"
	"github.com/lectern-ai/lectern/internal/gateway"
	"github.com/lectern-ai/lectern/internal/observability"
	"github.com/lectern-ai/lectern/internal/pipeline"
	"github.com/lectern-ai/lectern/internal/voice"
)

// buildService wires a local pipeline from configuration. CLI runs log at
// warn and above so pipeline output stays readable.
func buildService(cfgPath string) (*pipeline.Service, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       "warn",
		Format:      "console",
		ServiceName: "lectern",
	})

	gw, err := gateway.NewClient(gateway.Config{
		APIKey:         cfg.Generation.APIKey,
		BaseURL:        cfg.Generation.BaseURL,
		Model:          cfg.Generation.Model,
		EmbeddingModel: cfg.Embedding.Model,
		RequestTimeout: cfg.Generation.RequestTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("generation gateway: %w", err)
	}

	speech := voice.NewSpeechClient(cfg.Voice, logger)
	cacheClient := cache.NewMemoryClient(cfg.Cache.MaxEntries)

	return pipeline.New(cfg, gw, speech, cacheClient, logger), nil
}

// ingestPDF uploads a local PDF through the pipeline with a spinner.
func ingestPDF(ctx context.Context, svc *pipeline.Service, path string) (*document.Document, error) {
	pdf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PDF: %w", err)
	}

	spin := ui.NewSpinner(fmt.Sprintf("Processing %s...", filepath.Base(path)))
	spin.Start()
	doc, err := svc.Upload(ctx, filepath.Base(path), pdf)
	spin.Stop()
	if err != nil {
		return nil, fmt.Errorf("ingest document: %w", err)
	}

	ui.Success("Ingested %s (%d pages, %d chunks)", doc.Filename, doc.PageCount, len(doc.Chunks))
	return doc, nil
}
