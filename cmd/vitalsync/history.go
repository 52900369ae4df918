package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent flush cycles",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of cycles to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	client, _, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	records, err := client.RecentFlushes(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	if jsonOutput {
		items := make([]map[string]any, len(records))
		for i, r := range records {
			items[i] = map[string]any{
				"source":      r.Source,
				"status":      r.Status,
				"started_at":  r.StartedAt,
				"duration_ms": r.Duration.Milliseconds(),
				"sent":        r.Sent,
				"remaining":   r.Remaining,
				"failed":      r.Failed,
				"error":       r.Error,
			}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"flushes": items,
			"total":   len(items),
		})
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No flushes recorded.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "STARTED\tSOURCE\tSTATUS\tSENT\tFAILED\tREMAINING\tERROR")
	for _, r := range records {
		errText := r.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Source,
			r.Status,
			r.Sent,
			r.Failed,
			r.Remaining,
			errText,
		)
	}
	w.Flush()

	return nil
}
