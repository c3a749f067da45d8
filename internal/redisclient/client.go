package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client stores checkout idempotency keys. A key is first claimed with a
// SETNX placeholder, then overwritten with the id of the order the winning
// request created; duplicates short-circuit to that order instead of
// placing a second one.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity.
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

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// pendingResult marks a key whose checkout is still in flight. It is
// claimed with SETNX so only one concurrent request per key proceeds.
const pendingResult = "__pending__"

// ReserveCheckout claims an idempotency key for the calling request.
// It returns false when another request already holds the key, whether
// still in flight or already completed.
func (c *Client) ReserveCheckout(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:checkout:%s", key), pendingResult, ttl).Result()
}

// ReleaseCheckout drops a claim whose checkout failed so a retry with the
// same key can proceed.
func (c *Client) ReleaseCheckout(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:checkout:%s", key)).Err()
}

// SetCheckoutResult records the order created for an idempotency key,
// replacing the pending claim.
func (c *Client) SetCheckoutResult(ctx context.Context, key, orderID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:checkout:%s", key), orderID, ttl).Err()
}

// GetCheckoutResult returns the order id recorded for an idempotency key,
// or "" when the key is unknown.
func (c *Client) GetCheckoutResult(ctx context.Context, key string) (string, error) {
	orderID, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:checkout:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if orderID == pendingResult {
		return "", nil
	}
	return orderID, nil
}
