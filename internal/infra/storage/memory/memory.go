package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vietddude/catalog-etl/internal/core/domain"
	"github.com/vietddude/catalog-etl/internal/infra/storage"
)

// ProductStore is an in-memory sink with the same uniqueness rules as the
// SQL table: one row per uuid and per (product_id, updated_at).
type ProductStore struct {
	products map[uuid.UUID]*domain.Product
	keys     map[domain.NaturalKey]uuid.UUID
	order    []uuid.UUID
	mu       sync.RWMutex
}

func NewProductStore() *ProductStore {
	return &ProductStore{
		products: make(map[uuid.UUID]*domain.Product),
		keys:     make(map[domain.NaturalKey]uuid.UUID),
	}
}

// Acquire returns the store itself; there is no connection to check out.
func (s *ProductStore) Acquire(ctx context.Context) (storage.ProductSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ProductStore) SaveBatch(ctx context.Context, batch domain.Batch) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted int64
	for _, p := range batch {
		if _, ok := s.products[p.UUID]; ok {
			continue
		}
		key := p.Key()
		if _, ok := s.keys[key]; ok {
			continue
		}
		cp := *p
		s.products[p.UUID] = &cp
		s.keys[key] = p.UUID
		s.order = append(s.order, p.UUID)
		inserted++
	}
	return inserted, nil
}

func (s *ProductStore) Close() error {
	return nil
}

// Count returns the number of stored products.
func (s *ProductStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.products)), nil
}

// Products returns stored products in insertion order.
func (s *ProductStore) Products() []*domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.products[id])
	}
	return out
}
