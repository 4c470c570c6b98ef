// Package cache provides the ephemeral store client used for short-lived
// counters, locks, the revocation blocklist, and the challenge-nonce mirror
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config contains ephemeral store connection configuration
type Config struct {
	// URL is a redis connection URL (redis://[:password@]host:port/db)
	URL string

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults. Outbound
// calls carry bounded timeouts so a stalled store cannot hold requests.
func DefaultConfig() *Config {
	return &Config{
		URL:          "redis://localhost:6379/0",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Client wraps the shared redis connection for the ephemeral store
type Client struct {
	client redis.UniversalClient
}

// New connects to the ephemeral store and verifies the connection
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 8 * time.Millisecond
	opts.MaxRetryBackoff = 512 * time.Millisecond

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewFromClient wraps an existing redis client (used by tests)
func NewFromClient(client redis.UniversalClient) *Client {
	return &Client{client: client}
}

// Raw exposes the underlying client for components that issue their own
// pipelines (rate limiter, risk counters)
func (c *Client) Raw() redis.UniversalClient {
	return c.client
}

// Set stores a plain string entry with a TTL
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Get retrieves a plain string entry; found is false when the key is absent
func (c *Client) Get(ctx context.Context, key string) (value string, found bool, err error) {
	v, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Delete removes a key
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// AcquireLock takes an advisory lock via SET NX. The lock caps write QPS for
// opportunistic persistence; it is not relied on for correctness.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, "1", ttl).Result()
}

// Close releases the connection pool
func (c *Client) Close() error {
	return c.client.Close()
}
