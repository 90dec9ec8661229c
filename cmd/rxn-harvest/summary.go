package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/rxn-harvest/internal/results"
)

var summaryCmd = &cobra.Command{
	Use:   "summary <document>",
	Short: "Print per-collection counts of a crawl document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := results.ReadFile(args[0])
		if err != nil {
			return err
		}
		results.FormatSummary(*doc, os.Stdout)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
