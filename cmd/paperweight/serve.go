package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/castellan/paperweight/internal/chat"
	"github.com/castellan/paperweight/internal/pipeline"
	"github.com/castellan/paperweight/internal/reconcile"
	"github.com/castellan/paperweight/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the enrichment service",
		Long: `Start the long-running enrichment service: the HTTP API (webhook intake,
status, document chat, thumbnails), the webhook queue consumer, and the
scheduled archive scanner.

Examples:
  # Serve on the default address
  paperweight serve

  # Serve on a custom address with hourly scans
  paperweight serve --listen :9090 --scan-interval 1h`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().Duration("scan-interval", 30*time.Minute, "interval between archive scans (0 disables)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("server.scan_interval", cmd.Flags().Lookup("scan-interval"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	archiveClient, err := createArchiveClient()
	if err != nil {
		return err
	}

	store, err := openLedger()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close ledger", "error", closeErr)
		}
	}()

	analyzer, err := createAnalyzer()
	if err != nil {
		return err
	}

	engine := reconcile.New(archiveClient, store, enrichmentFlags())
	svc := pipeline.New(archiveClient, store, analyzer, engine, pipeline.Config{
		ScanInterval: viper.GetDuration("server.scan_interval"),
		QueueSize:    viper.GetInt("server.queue_size"),
	})

	chats, err := chat.New(archiveClient, providerConfig(), chat.Config{
		MaxSessions: viper.GetInt("chat.max_sessions"),
		IdleTimeout: viper.GetDuration("chat.idle_timeout"),
	})
	if err != nil {
		return err
	}

	srv := server.New(viper.GetString("server.listen"), svc, chats, archiveClient)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("service exited: %w", err)
	}
	slog.Info("service stopped")
	return nil
}
