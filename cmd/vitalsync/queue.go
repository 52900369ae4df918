package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var queueDiscard []string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending observations",
	Long:  "List pending observations, oldest first. Use --discard to drop entries the remote keeps rejecting.",
	Args:  cobra.NoArgs,
	RunE:  runQueue,
}

func init() {
	queueCmd.Flags().StringSliceVar(&queueDiscard, "discard", nil,
		"Idempotency key to remove from the queue (repeatable)")
}

func runQueue(cmd *cobra.Command, args []string) error {
	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if len(queueDiscard) > 0 {
		removed, err := client.Discard(queueDiscard...)
		if err != nil {
			return err
		}
		if removed != len(queueDiscard) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d keys were not queued\n", len(queueDiscard)-removed, len(queueDiscard))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Discarded %d item(s).\n", removed)
		return nil
	}

	items := client.Queue()

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"items":    items,
			"total":    len(items),
			"capacity": client.QueueCapacity(),
		})
	}

	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d pending\n\n", len(items), client.QueueCapacity())
	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "KEY\tSUBJECT\tKIND\tOBSERVED\tRETRIES\tNEXT\tLAST ERROR")
	for _, it := range items {
		next := "-"
		if it.NextEligibleAt != nil {
			next = it.NextEligibleAt.Local().Format(time.TimeOnly)
		}
		lastErr := it.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			it.IdempotencyKey,
			it.SubjectID,
			it.Kind,
			it.ObservedAt.Local().Format("2006-01-02 15:04"),
			it.RetryCount,
			next,
			lastErr,
		)
	}
	w.Flush()

	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
