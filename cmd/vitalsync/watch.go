package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/hyperengineering/vitalsync/internal/worker"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Flush automatically until interrupted",
	Long:  "Run the auto flush worker and the connectivity watcher. A flush runs on every auto interval and whenever the remote becomes reachable again.",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	client, cfg, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.Flush.AutoInterval <= 0 && cfg.Flush.ProbeInterval <= 0 {
		return fmt.Errorf("both flush.auto_interval and flush.probe_interval are disabled")
	}
	if err := client.StartWorkers(ctx, worker.LogNotifier{}); err != nil {
		return err
	}
	slog.Info("watching queue",
		"component", "cli",
		"device_id", client.DeviceID(),
		"pending", client.QueueLen(),
	)

	<-ctx.Done()
	slog.Info("shutdown initiated")
	if err := client.Close(); err != nil {
		slog.Error("client close error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}
