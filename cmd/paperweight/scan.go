package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/castellan/paperweight/internal/pipeline"
	"github.com/castellan/paperweight/internal/reconcile"
)

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one enrichment pass over the archive",
		Long: `Enumerate every document in the archive and enrich the ones not yet
processed, then exit. Documents already marked complete are skipped.

Examples:
  # One-shot scan
  paperweight scan`,
		RunE: runScan,
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
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
	svc := pipeline.New(archiveClient, store, analyzer, engine, pipeline.Config{})

	if err := svc.ScanOnce(ctx); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	usage, err := store.TotalUsage(ctx)
	if err != nil {
		slog.Warn("failed to read token usage totals", "error", err)
		return nil
	}
	fmt.Printf("Scan complete. Total tokens used: %d (prompt %d, completion %d)\n",
		usage.Total, usage.Prompt, usage.Completion)
	return nil
}
