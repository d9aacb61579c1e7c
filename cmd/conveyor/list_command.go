package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"conveyor/internal/jobs"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		statusFlag string
		sinceFlag  string
		limitFlag  int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversion jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, st, _, err := ctx.openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			var records []*jobs.Record
			if statusFlag != "" {
				status, ok := jobs.ParseStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				var since time.Time
				if sinceFlag != "" {
					window, err := time.ParseDuration(sinceFlag)
					if err != nil {
						return fmt.Errorf("invalid --since %q: %w", sinceFlag, err)
					}
					since = time.Now().Add(-window)
				}
				records, err = st.ListByStatus(cmd.Context(), status, since, limitFlag)
			} else {
				records, err = st.List(cmd.Context())
			}
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					rec.JobID,
					string(rec.Status),
					fmt.Sprintf("%d", rec.Attempt),
					truncate(rec.InputRef, 48),
					formatTimestamp(rec.UpdatedAt),
				})
			}
			writeRows(cmd.OutOrStdout(),
				[]string{"JOB ID", "STATUS", "ATTEMPT", "INPUT", "UPDATED"},
				rows,
				3,
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (pending, submitted, in_progress, succeeded, failed)")
	cmd.Flags().StringVar(&sinceFlag, "since", "", "Only jobs updated within this window, e.g. 24h (requires --status)")
	cmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum number of jobs to list (requires --status)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable output")
	return cmd
}
