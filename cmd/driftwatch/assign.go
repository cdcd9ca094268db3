package main

import (
	"github.com/spf13/cobra"
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign unclustered items to the nearest existing cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		_, err = a.assigner().Run(cmd.Context())
		return err
	},
}

func init() {
	rootCmd.AddCommand(assignCmd)
}
