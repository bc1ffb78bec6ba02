package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	noColor      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:           "stratctx",
	Short:         "Session context persistence and strategic search",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case formatText, formatJSON, formatYAML:
			return nil
		}
		return fmt.Errorf("--output must be one of %s, %s, %s", formatText, formatJSON, formatYAML)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatText, "output format: text, json or yaml")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(configCmd)
}
