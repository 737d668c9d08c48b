package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/catalog-etl/internal/infra/redis"
	"github.com/vietddude/catalog-etl/internal/infra/storage"
	"github.com/vietddude/catalog-etl/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the row count of the target table and the last recorded run",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	target := storage.Target{Schema: cfg.Sink.Schema, Table: cfg.Sink.Table}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	defer func() {
		_ = w.Flush()
	}()
	_, _ = fmt.Fprintln(w, "KEY\tVALUE")
	_, _ = fmt.Fprintf(w, "target\t%s\n", target)
	_, _ = fmt.Fprintf(w, "source\t%s\n", cfg.Source.Path)

	if cfg.DryRun() {
		_, _ = fmt.Fprintln(w, "rows\t(dry run, no database configured)")
	} else {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = db.Close()
		}()

		count, err := postgres.NewProductRepo(db, target).Count(ctx)
		if err != nil {
			slog.Error("Failed to count rows", "target", target.String(), "error", err)
			os.Exit(1)
		}
		_, _ = fmt.Fprintf(w, "rows\t%d\n", count)
	}

	if cfg.Redis.URL == "" {
		return
	}
	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("Failed to connect to Redis", "error", err)
		return
	}
	defer func() {
		_ = client.Close()
	}()

	last, err := client.GetLastRun(ctx, target.String())
	if err != nil {
		slog.Warn("Failed to read last run", "error", err)
		return
	}
	if last == nil {
		_, _ = fmt.Fprintln(w, "last_run\tnever")
		return
	}
	_, _ = fmt.Fprintf(w, "last_run\t%s\n", last.FinishedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "last_run_duration\t%s\n", last.Duration)
	_, _ = fmt.Fprintf(w, "last_run_records\t%d\n", last.Records)
	_, _ = fmt.Fprintf(w, "last_run_inserted\t%d\n", last.Inserted)
}
