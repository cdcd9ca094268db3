package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Analyze every cluster for drift and write the prioritized report",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.detector().Analyze(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), report.Markdown())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(driftCmd)
}
