package main

import (
	"fmt"

	"github.com/hyperengineering/vitalsync/internal/flush"
	"github.com/spf13/cobra"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Send pending observations to the remote list",
	Long:  "Run one manual flush cycle. Delivered items leave the queue; failed items are rescheduled with backoff.",
	Args:  cobra.NoArgs,
	RunE:  runFlush,
}

func runFlush(cmd *cobra.Command, args []string) error {
	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := client.Flush(cmd.Context())
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	outcome := flush.Classify(summary)

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"outcome": outcome,
			"message": outcome.Message(summary),
			"summary": summary,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, outcome.Message(summary))
	if len(summary.Entries) > 0 {
		w := newTabWriter(out)
		fmt.Fprintln(w, "SUBJECT\tSTATUS\tSENT\tFAILED\tCREATED")
		for _, e := range summary.Entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", e.SubjectID, e.Status, e.Succeeded, e.Failed, e.Created)
		}
		w.Flush()
	}
	for _, f := range summary.Failures {
		fmt.Fprintf(out, "  %s: %s (attempts %d)\n", f.IdempotencyKey, f.Error, f.Attempts)
	}
	return nil
}
