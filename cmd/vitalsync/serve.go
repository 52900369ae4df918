package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperengineering/vitalsync/internal/api"
	"github.com/hyperengineering/vitalsync/internal/lists"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development list server",
	Long:  "Serve an in-memory REST list collection at /api/v1/lists/{list}/items for local development and end-to-end testing.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(cmd.Context(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration and initialize logger
	cfg, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 3. Initialize list registry
	for _, name := range cfg.Server.Lists {
		if err := lists.ValidateListName(name); err != nil {
			return fmt.Errorf("server.lists: %w", err)
		}
	}
	registry := lists.NewRegistry(cfg.Server.AutoCreateLists, cfg.Server.Lists...)
	slog.Info("lists initialized", "lists", registry.Names(), "auto_create", cfg.Server.AutoCreateLists)

	// 4. Initialize HTTP router
	handler := api.NewHandler(registry, cfg.Server.APIKey, Version)
	limiter := api.NewWriteRateLimiter(cfg.Server.WriteBurst, cfg.Server.WriteRefill.Std())
	router := api.NewRouter(handler, limiter)
	if cfg.Server.APIKey == "" {
		slog.Warn("authentication disabled", "reason", "VITALSYNC_SERVER_API_KEY not set")
	}
	slog.Info("router initialized")

	// 5. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	// 6. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 7. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 8. Graceful shutdown drains in-flight requests
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
