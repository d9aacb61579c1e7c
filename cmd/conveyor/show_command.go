package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id|input-ref>",
		Short: "Show the full state of a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, st, _, err := ctx.openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			rec, err := st.Get(cmd.Context(), resolveJobID(args[0]))
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), rec)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:          %s\n", rec.JobID)
			fmt.Fprintf(out, "Status:       %s\n", rec.Status)
			fmt.Fprintf(out, "Input:        %s\n", rec.InputRef)
			if rec.OutputRef != "" {
				fmt.Fprintf(out, "Output:       %s\n", rec.OutputRef)
			}
			if rec.ExternalJobID != "" {
				fmt.Fprintf(out, "External job: %s\n", rec.ExternalJobID)
			}
			fmt.Fprintf(out, "Attempt:      %d\n", rec.Attempt)
			fmt.Fprintf(out, "Created:      %s\n", formatTimestamp(rec.CreatedAt))
			fmt.Fprintf(out, "Updated:      %s\n", formatTimestamp(rec.UpdatedAt))
			fmt.Fprintf(out, "Error:        %s\n", formatError(rec.LastError))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable output")
	return cmd
}
