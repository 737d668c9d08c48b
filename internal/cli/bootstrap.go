package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/catalog-etl/internal/infra/storage"
	"github.com/vietddude/catalog-etl/internal/infra/storage/postgres"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the target table if it does not exist",
	Run:   runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.DryRun() {
		fmt.Println("No database configured, nothing to bootstrap")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	target := storage.Target{Schema: cfg.Sink.Schema, Table: cfg.Sink.Table}
	if err := postgres.Bootstrap(ctx, db, target); err != nil {
		slog.Error("Failed to bootstrap table", "target", target.String(), "error", err)
		os.Exit(1)
	}
	fmt.Printf("Table %s is ready\n", target)
}
