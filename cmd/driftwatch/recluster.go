package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var reclusterCmd = &cobra.Command{
	Use:   "recluster <cluster-id>...",
	Short: "Partially re-cluster the given clusters",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, len(args))
		for i, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cluster id %q", arg)
			}
			ids[i] = id
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		stats, err := a.reclusterer().Run(cmd.Context(), ids)
		if err != nil {
			return err
		}
		if stats.BatchesFailed > 0 {
			return fmt.Errorf("%d of %d batches failed", stats.BatchesFailed, stats.BatchesRequested)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reclusterCmd)
}
