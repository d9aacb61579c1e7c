package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/ingest"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var outputRef string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "enqueue <input-ref>",
		Short: "Register a conversion job and queue it for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, st, q, err := ctx.openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			listener := ingest.New(st, q, nil)
			jobID, created, err := listener.Enqueue(cmd.Context(), args[0], outputRef)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"jobId":   jobID,
					"created": created,
				})
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s\n", jobID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s already exists, nothing enqueued\n", jobID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputRef, "output", "o", "", "Destination reference for the converted media")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable output")
	return cmd
}
