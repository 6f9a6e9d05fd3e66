package commands

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lectern-ai/lectern/cmd/lectern/ui"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize <pdf>",
	Short: "Summarize a PDF document",
	Long:  "Extract a PDF's text and produce a structured summary with key points and topics.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummarize,
}

func init() {
	rootCmd.AddCommand(summarizeCmd)
}

func runSummarize(cmd *cobra.Command, args []string) error {
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

	summary := doc.Summary
	ui.Heading("\n%s", summary.Title)
	ui.Message("%s\n", summary.Abstract)

	if len(summary.KeyPoints) > 0 {
		ui.Heading("Key points")
		for _, p := range summary.KeyPoints {
			ui.Message("  • %s", p)
		}
	}
	if len(summary.MainTopics) > 0 {
		ui.Field("\nTopics", "%s", strings.Join(summary.MainTopics, ", "))
	}
	if summary.DifficultyLevel != "" {
		ui.Field("Difficulty", "%s", summary.DifficultyLevel)
	}
	if summary.EstimatedReadTime != "" {
		ui.Field("Read time", "%s", summary.EstimatedReadTime)
	}
	if len(summary.Authors) > 0 {
		ui.Field("Authors", "%s", strings.Join(summary.Authors, ", "))
	}

	return nil
}
