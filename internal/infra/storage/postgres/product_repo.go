package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/catalog-etl/internal/core/domain"
	"github.com/vietddude/catalog-etl/internal/infra/storage"
	"github.com/vietddude/catalog-etl/internal/ingestion/metrics"
)

// ProductRepo loads products into a single target table.
type ProductRepo struct {
	db     *DB
	target storage.Target
	insert string
	log    *slog.Logger

	bootstrap    bool
	bootstrapped atomic.Bool
}

// NewProductRepo creates a repository writing to target.
func NewProductRepo(db *DB, target storage.Target) *ProductRepo {
	return &ProductRepo{
		db:     db,
		target: target,
		insert: insertQuery(target),
		log:    slog.Default().With("component", "sink", "target", target.String()),
	}
}

// insertQuery binds every column by name. Rows that collide with an existing
// key are skipped, which makes reloading a batch a no-op.
func insertQuery(target storage.Target) string {
	params := make([]string, len(domain.ProductColumns))
	for i, col := range domain.ProductColumns {
		params[i] = ":" + col
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		target,
		strings.Join(domain.ProductColumns, ", "),
		strings.Join(params, ", "),
	)
}

// EnableBootstrap makes the first successful Acquire create the target table.
func (r *ProductRepo) EnableBootstrap() {
	r.bootstrap = true
}

// Acquire checks out one connection from the pool for exclusive use.
func (r *ProductRepo) Acquire(ctx context.Context) (storage.ProductSink, error) {
	if r.bootstrap && !r.bootstrapped.Load() {
		if err := Bootstrap(ctx, r.db, r.target); err != nil {
			return nil, err
		}
		r.bootstrapped.Store(true)
	}

	conn, err := r.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &session{repo: r, conn: conn}, nil
}

// Count returns the number of rows in the target table.
func (r *ProductRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+r.target.String()); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

type session struct {
	repo *ProductRepo
	conn *sqlx.Conn
}

// SaveBatch inserts the batch inside one transaction on the session's connection.
func (s *session) SaveBatch(ctx context.Context, batch domain.Batch) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, s.repo.insert)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, p := range batch {
		res, err := stmt.ExecContext(ctx, p)
		if err != nil {
			return 0, fmt.Errorf("failed to insert product %d: %w", p.ProductID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	metrics.DBBatchSize.Observe(float64(len(batch)))
	if skipped := int64(len(batch)) - inserted; skipped > 0 {
		s.repo.log.Debug("Skipped existing products", "skipped", skipped, "inserted", inserted)
	}
	return inserted, nil
}

// Close returns the connection to the pool.
func (s *session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
