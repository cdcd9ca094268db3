package main

import (
	"github.com/spf13/cobra"
)

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Run the daily snapshot, transition, and metrics pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		_, err = a.tracker().Run(cmd.Context())
		return err
	},
}

func init() {
	rootCmd.AddCommand(evolveCmd)
}
