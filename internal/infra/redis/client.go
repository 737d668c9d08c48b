package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/catalog-etl/internal/core/domain"
)

// Client wraps Redis operations shared by ingestion daemons.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string        `yaml:"url"`
	Password  string        `yaml:"password"`
	KeyPrefix string        `yaml:"key_prefix"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "catalog-etl"
	}
	return &Client{rdb: rdb, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func lockKey(prefix, target string) string {
	return fmt.Sprintf("%s:lock:%s", prefix, target)
}

func lastRunKey(prefix, target string) string {
	return fmt.Sprintf("%s:last_run:%s", prefix, target)
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock TTL only if it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// AcquireLock attempts to take the cycle lock for a target.
func (c *Client) AcquireLock(
	ctx context.Context,
	target, token string,
	ttl time.Duration,
) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(c.prefix, target), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases the cycle lock if token still owns it.
func (c *Client) ReleaseLock(ctx context.Context, target, token string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{lockKey(c.prefix, target)}, token).Err(); err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	return nil
}

// RefreshLock extends the cycle lock TTL. It reports false when token no
// longer owns the lock.
func (c *Client) RefreshLock(
	ctx context.Context,
	target, token string,
	ttl time.Duration,
) (bool, error) {
	n, err := refreshScript.Run(ctx, c.rdb, []string{lockKey(c.prefix, target)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lock failed: %w", err)
	}
	return n == 1, nil
}

// SetLastRun stores the summary of the latest successful cycle.
func (c *Client) SetLastRun(ctx context.Context, target string, stats domain.CycleStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, lastRunKey(c.prefix, target), data, 0).Err()
}

// GetLastRun returns the latest recorded cycle, or nil when none exists.
func (c *Client) GetLastRun(ctx context.Context, target string) (*domain.CycleStats, error) {
	data, err := c.rdb.Get(ctx, lastRunKey(c.prefix, target)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}

	var stats domain.CycleStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("invalid run summary: %w", err)
	}
	return &stats, nil
}
