package storage

import (
	"context"
	"fmt"

	"github.com/vietddude/catalog-etl/internal/core/domain"
)

// Target names the table products are loaded into.
type Target struct {
	Schema string
	Table  string
}

// String returns the schema-qualified table name.
func (t Target) String() string {
	if t.Schema == "" {
		return t.Table
	}
	return fmt.Sprintf("%s.%s", t.Schema, t.Table)
}

// ProductSink loads product batches into the relational store.
type ProductSink interface {
	// SaveBatch writes the batch in one transaction. Products whose key
	// already exists are skipped without error. It returns the number of
	// rows actually inserted.
	SaveBatch(ctx context.Context, batch domain.Batch) (int64, error)

	// Close releases the sink's connection.
	Close() error
}

// SinkConnector hands out sinks bound to an exclusively owned connection.
type SinkConnector interface {
	Acquire(ctx context.Context) (ProductSink, error)
}
