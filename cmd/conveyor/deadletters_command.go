package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newDeadLettersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "Inspect and redrive dead-lettered messages",
	}
	cmd.AddCommand(newDeadLettersListCommand(ctx))
	cmd.AddCommand(newDeadLettersRedriveCommand(ctx))
	return cmd
}

func newDeadLettersListCommand(ctx *commandContext) *cobra.Command {
	var (
		limitFlag int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, _, q, err := ctx.openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			letters, err := q.DeadLetters(cmd.Context(), limitFlag)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), letters)
			}
			if len(letters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead letters")
				return nil
			}

			rows := make([][]string, 0, len(letters))
			for _, letter := range letters {
				rows = append(rows, []string{
					strconv.FormatInt(letter.ID, 10),
					letter.JobID,
					strconv.Itoa(letter.Attempts),
					truncate(letter.FailureReason, 56),
					formatTimestamp(letter.DeadLetteredAt),
				})
			}
			writeRows(cmd.OutOrStdout(),
				[]string{"ID", "JOB ID", "ATTEMPTS", "REASON", "DEAD-LETTERED"},
				rows,
				1, 3,
			)
			return nil
		},
	}
	cmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum number of entries to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable output")
	return cmd
}

func newDeadLettersRedriveCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redrive [id...]",
		Short: "Move dead letters back onto the queue (all of them without ids)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid dead letter id %q", arg)
				}
				ids = append(ids, id)
			}

			database, _, q, err := ctx.openStores()
			if err != nil {
				return err
			}
			defer database.Close()

			count, err := q.Redrive(cmd.Context(), ids...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Redrove %d message(s)\n", count)
			return nil
		},
	}
	return cmd
}
