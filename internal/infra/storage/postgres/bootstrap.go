package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/catalog-etl/internal/infra/storage"
)

// Bootstrap creates the target table when it does not exist yet.
// Column types are chosen so the same DDL runs on PostgreSQL and SQLite.
// Each target tracks its migration in its own version table, so bootstrapping
// one target never marks another as done.
func Bootstrap(ctx context.Context, db *DB, target storage.Target) error {
	dialect := goose.DialectPostgres
	if db.driver == DriverSQLite {
		dialect = goose.DialectSQLite3
	}

	createTable := goose.NewGoMigration(1,
		&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, createTableQuery(target))
			return err
		}},
		&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+target.String())
			return err
		}},
	)

	provider, err := goose.NewProvider(dialect, db.DB.DB, nil,
		goose.WithDisableGlobalRegistry(true),
		goose.WithTableName(versionTable(target)),
		goose.WithGoMigrations(createTable),
	)
	if err != nil {
		return fmt.Errorf("failed to init bootstrap: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to bootstrap %s: %w", target, err)
	}

	if len(results) == 0 && !tableExists(ctx, db, target) {
		// Recorded as applied but the table was dropped since.
		slog.Warn("Bootstrap recorded but table is missing, recreating", "target", target.String())
		if _, err := provider.DownTo(ctx, 0); err != nil {
			return fmt.Errorf("failed to reset bootstrap of %s: %w", target, err)
		}
		if results, err = provider.Up(ctx); err != nil {
			return fmt.Errorf("failed to bootstrap %s: %w", target, err)
		}
	}

	for _, r := range results {
		slog.Info("Applied bootstrap migration", "version", r.Source.Version, "target", target.String(), "duration", r.Duration)
	}
	return nil
}

// versionTable names the goose version table kept next to target.
func versionTable(target storage.Target) string {
	return storage.Target{Schema: target.Schema, Table: "goose_" + target.Table}.String()
}

func tableExists(ctx context.Context, db *DB, target storage.Target) bool {
	rows, err := db.QueryContext(ctx, "SELECT 1 FROM "+target.String()+" WHERE 1 = 0")
	if err != nil {
		return false
	}
	_ = rows.Close()
	return true
}

func createTableQuery(target storage.Target) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	uuid UUID PRIMARY KEY,
	marketplace_id BIGINT,
	product_id BIGINT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	brand BIGINT,
	seller_id BIGINT,
	seller_name TEXT,
	first_image_url TEXT NOT NULL,
	category_id BIGINT NOT NULL,
	category_lvl_1 TEXT,
	category_lvl_2 TEXT,
	category_lvl_3 TEXT,
	category_remaining TEXT,
	features TEXT NOT NULL,
	rating_count BIGINT,
	rating_value DOUBLE PRECISION,
	price_before_discounts DOUBLE PRECISION,
	discount DOUBLE PRECISION,
	price_after_discounts DOUBLE PRECISION,
	bonuses BIGINT,
	sales BIGINT,
	inserted_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	currency TEXT NOT NULL,
	barcode BIGINT,
	UNIQUE (product_id, updated_at)
)`, target)
}
