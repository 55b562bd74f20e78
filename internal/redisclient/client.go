package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/set_stock.lua
var setStockScript string

const (
	stockSnapshotTTL = 24 * time.Hour
	dedupTTL         = 24 * time.Hour
)

type Client struct {
	rdb       *redis.Client
	setScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:       rdb,
		setScript: redis.NewScript(setStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(bookID int64) string {
	return fmt.Sprintf("stock:%d", bookID)
}

// SetStockSnapshot caches a book's available quantity. The write is
// versioned via Lua so a stale event never overwrites a newer snapshot.
func (c *Client) SetStockSnapshot(ctx context.Context, bookID int64, available int, version int64) error {
	_, err := c.setScript.Run(ctx, c.rdb, []string{stockKey(bookID)},
		available, version, int(stockSnapshotTTL.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("set stock script failed: %w", err)
	}
	return nil
}

// GetAvailable returns the cached available quantity for a book.
// The second return is false on a cache miss.
func (c *Client) GetAvailable(ctx context.Context, bookID int64) (int, bool, error) {
	val, err := c.rdb.HGet(ctx, stockKey(bookID), "available").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	available, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock snapshot for book %d: %w", bookID, err)
	}
	return available, true, nil
}

// InvalidateStock drops a book's cached snapshot.
func (c *Client) InvalidateStock(ctx context.Context, bookID int64) error {
	return c.rdb.Del(ctx, stockKey(bookID)).Err()
}

// Dedupe records an event ID for a consumer and reports whether this is
// the first delivery.
func (c *Client) Dedupe(ctx context.Context, consumer, eventID string) (bool, error) {
	key := fmt.Sprintf("dedup:%s:%s", consumer, eventID)
	return c.rdb.SetNX(ctx, key, "1", dedupTTL).Result()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the stored value for an idempotency key,
// or "" when absent.
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}
