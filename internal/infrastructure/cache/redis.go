package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/epitome-sim/reverie-core/internal/infrastructure/config"
)

// compareAndDeleteScript deletes KEYS[1] only if it still holds ARGV[1].
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Store backed by a Redis server, shared by every service
// instance pointing at it.
type Redis struct {
	client *redis.Client
}

// ConnectRedis opens a pooled client from cfg and verifies it with PING.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	addr := cfg.Address
	// Accept redis:// URLs as well as host:port
	addr = strings.TrimPrefix(addr, "redis://")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	return &Redis{client: client}, nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Client exposes the underlying client so pub/sub can share the pool.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Get returns the value stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key with the given ttl.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// CompareAndDelete removes key if it holds expected, atomically on the server.
func (r *Redis) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, r.client, []string{key}, expected).Int()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete %s: %w", key, err)
	}
	return n > 0, nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Compile-time interface checks.
var (
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
)
