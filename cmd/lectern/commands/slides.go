package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lectern-ai/lectern/cmd/lectern/ui"
)

var slidesNarrate bool

var slidesCmd = &cobra.Command{
	Use:   "slides <pdf>",
	Short: "Generate a narrated slide deck from a PDF",
	Long:  "Ingest a PDF and generate a slide deck, one slide per topic, each with speaker notes.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSlides,
}

func init() {
	slidesCmd.Flags().BoolVar(&slidesNarrate, "narrate", false, "synthesize narration audio for each slide")
	rootCmd.AddCommand(slidesCmd)
}

func runSlides(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
	defer cancel()

	svc, err := buildService(cfgFile)
	if err != nil {
		return err
	}
	defer svc.Close()

	doc, err := ingestPDF(ctx, svc, args[0])
	if err != nil {
		return err
	}

	spin := ui.NewSpinner("Generating slides...")
	spin.Start()
	deck, err := svc.GenerateSlides(ctx, doc.ID)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("generate slides: %w", err)
	}

	ui.Success("Generated %d slides", len(deck.Slides))
	for _, slide := range deck.Slides {
		ui.Heading("\n[%d/%d] %s", slide.SlideNumber, len(deck.Slides), slide.Title)
		ui.Message("%s", slide.Content)
		ui.Field("Narration", "%s", slide.SpeakerNotes)
	}

	if slidesNarrate {
		spin = ui.NewSpinner("Synthesizing narration...")
		spin.Start()
		var failed int
		for _, slide := range deck.Slides {
			if _, err := svc.SlideAudio(ctx, doc.ID, slide.SlideNumber); err != nil {
				failed++
			}
		}
		spin.Stop()
		if failed > 0 {
			ui.Error("Narration failed for %d of %d slides", failed, len(deck.Slides))
		} else {
			ui.Success("Narration synthesized for all %d slides", len(deck.Slides))
		}
	}

	return nil
}
