package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lectern-ai/lectern/cmd/lectern/ui"
)

var askCmd = &cobra.Command{
	Use:   "ask <pdf> <question>",
	Short: "Ask a question about a PDF",
	Long:  "Ingest a PDF and answer a question grounded in the document's content.",
	Args:  cobra.ExactArgs(2),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
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

	question := args[1]
	spin := ui.NewSpinner("Answering...")
	spin.Start()
	answer, confidence, err := svc.Ask(ctx, doc.ID, question)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("answer question: %w", err)
	}

	ui.Heading("\nQ: %s", question)
	ui.Message("%s", answer)
	if confidence > 0 {
		ui.Field("\nConfidence", "%.2f", confidence)
	}

	return nil
}
