// Package commands implements the lectern CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/lectern-ai/lectern/cmd/lectern/ui"
)

var (
	cfgFile string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Lectern - turn a PDF into a summary, slide deck, or answers",
	Long: `Lectern runs the document pipeline locally against a PDF:
extract the text, build a retrieval index, and produce a structured
summary, a narrated slide deck, or grounded answers to questions.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(noColor)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
