package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thebtf/driftwatch/pkg/models"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full maintenance workflow once",
	Long: `Run the full maintenance workflow: backlog assignment, the
time-gated drift check, conditional re-clustering of the worst drifted
clusters, and evolution tracking. A failing stage is recorded and the
remaining stages still run; the exit code is non-zero when any stage
failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		summary, err := a.orchestrator().Run(cmd.Context())
		if err != nil {
			return err
		}
		if summary.Failed() {
			failed := 0
			for _, r := range summary.Stages {
				if r.Status == models.StatusFailed {
					failed++
				}
			}
			return fmt.Errorf("%d stage(s) failed, see the operational log", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
