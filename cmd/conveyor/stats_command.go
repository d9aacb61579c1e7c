package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/jobs"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status and the queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, st, q, err := ctx.openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			depth, err := q.Depth(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"jobs":       stats,
					"queueDepth": depth,
				})
			}

			rows := make([][]string, 0, len(stats)+1)
			for _, status := range jobs.AllStatuses() {
				if count, ok := stats[status]; ok {
					rows = append(rows, []string{string(status), fmt.Sprintf("%d", count)})
				}
			}
			rows = append(rows, []string{"queue depth", fmt.Sprintf("%d", depth)})
			writeRows(cmd.OutOrStdout(), []string{"METRIC", "COUNT"}, rows, 2)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable output")
	return cmd
}
