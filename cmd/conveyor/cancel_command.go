package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <job-id|input-ref>",
		Short: "Administratively fail a job that has not finished yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, st, _, err := ctx.openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			message := strings.TrimSpace(reason)
			if message == "" {
				message = "cancelled by operator"
			}
			rec, err := st.Cancel(cmd.Context(), resolveJobID(args[0]), message)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", rec.JobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the failed job")
	return cmd
}
