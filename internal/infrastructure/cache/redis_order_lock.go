package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/resale/backend/internal/domain/dispatch"
)

// RedisOrderLock implements OrderLocker using Redis. The lock is a SETNX
// lease keyed by order id; the TTL bounds how long a crashed worker can hold
// an order hostage. Suitable for multi-instance deployments where dispatch
// attempts for the same order may land on different processes.
//
// Each acquire stores a random lease token as the key value and release runs
// a compare-and-delete script, so a worker that overran its TTL cannot free
// a lock another worker has since taken.
type RedisOrderLock struct {
	client    *redis.Client
	keyPrefix string
}

// releaseScript deletes the lock only when the stored lease still matches
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisOrderLock creates a Redis-backed order lock
func NewRedisOrderLock(cfg RedisConfig) (*RedisOrderLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisOrderLock{
		client:    client,
		keyPrefix: "dispatch:lock:",
	}, nil
}

// NewRedisOrderLockWithClient creates a lock with an existing Redis client.
// Useful for testing or when sharing a client across components.
func NewRedisOrderLockWithClient(client *redis.Client, keyPrefix string) *RedisOrderLock {
	if keyPrefix == "" {
		keyPrefix = "dispatch:lock:"
	}
	return &RedisOrderLock{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Acquire takes the per-order lock; acquired is false when another attempt
// holds it. The returned lease token identifies this holder.
func (l *RedisOrderLock) Acquire(ctx context.Context, orderID uuid.UUID, ttl time.Duration) (string, bool, error) {
	key := l.keyPrefix + orderID.String()
	lease := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, lease, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire order lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return lease, true, nil
}

// Release frees the per-order lock iff lease still owns it. A no-op when the
// lease has expired and the lock moved on.
func (l *RedisOrderLock) Release(ctx context.Context, orderID uuid.UUID, lease string) error {
	key := l.keyPrefix + orderID.String()

	if err := releaseScript.Run(ctx, l.client, []string{key}, lease).Err(); err != nil {
		return fmt.Errorf("failed to release order lock: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (l *RedisOrderLock) Close() error {
	return l.client.Close()
}

// Ensure RedisOrderLock implements OrderLocker
var _ dispatch.OrderLocker = (*RedisOrderLock)(nil)
