package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/catalog-etl/internal/control"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single ingestion cycle, retrying until it succeeds, then exit",
	Run:   runOnce,
}

func init() {
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := signalContext()
	defer cancel()

	pipeline, err := control.NewPipeline(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	stats, err := pipeline.RunOnce(ctx)
	if err != nil {
		slog.Error("Cycle did not complete", "error", err)
		pipeline.Close()
		os.Exit(1)
	}
	slog.Info("Cycle complete",
		"batches", stats.Batches,
		"records", stats.Records,
		"inserted", stats.Inserted,
		"skipped", stats.Skipped,
		"duration", stats.Duration,
	)
}
