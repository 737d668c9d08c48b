package redis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/catalog-etl/internal/core/domain"
)

// DefaultLockTTL bounds how long a crashed daemon can block the others.
// A running cycle refreshes it after every batch.
const DefaultLockTTL = 10 * time.Minute

// CycleLock keeps two daemons from loading the same target at once.
type CycleLock struct {
	client *Client
	target string
	token  string
	ttl    time.Duration
}

// NewCycleLock creates a lock for target owned by this process.
func NewCycleLock(client *Client, target string, ttl time.Duration) *CycleLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &CycleLock{
		client: client,
		target: target,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

func (l *CycleLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.AcquireLock(ctx, l.target, l.token, l.ttl)
}

// Refresh pushes the expiry out by another TTL while a cycle is running.
func (l *CycleLock) Refresh(ctx context.Context) (bool, error) {
	return l.client.RefreshLock(ctx, l.target, l.token, l.ttl)
}

func (l *CycleLock) Unlock(ctx context.Context) error {
	return l.client.ReleaseLock(ctx, l.target, l.token)
}

// RecordRun stores stats as the target's last successful run.
func (l *CycleLock) RecordRun(ctx context.Context, stats domain.CycleStats) error {
	return l.client.SetLastRun(ctx, l.target, stats)
}
