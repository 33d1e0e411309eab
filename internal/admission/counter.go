package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter tracks the number of currently-connected clients against Once /
// MaxClients (spec.md §3, §4.4). The in-process implementation is the
// default; RedisCounter is the DOMAIN STACK addition for multi-instance
// deployments sharing a cap behind a load balancer.
type Counter interface {
	// TryAdmit atomically checks the cap and, if admitted, increments the
	// count. Returns false if the cap is already reached.
	TryAdmit(ctx context.Context) (bool, error)
	// Release decrements the count after a session ends.
	Release(ctx context.Context) error
	// Count returns the current count (best-effort for RedisCounter).
	Count(ctx context.Context) (int, error)
}

// LocalCounter is an in-process counter, matching spec.md §5's "client_count
// ... accessed only from the event loop" model via a mutex instead.
type LocalCounter struct {
	once       bool
	maxClients int

	mu      sync.Mutex
	count   int
	everServed bool
}

func NewLocalCounter(once bool, maxClients int) *LocalCounter {
	return &LocalCounter{once: once, maxClients: maxClients}
}

func (c *LocalCounter) TryAdmit(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.once && c.everServed {
		return false, nil
	}
	if c.maxClients > 0 && c.count >= c.maxClients {
		return false, nil
	}
	c.count++
	c.everServed = true
	return true, nil
}

func (c *LocalCounter) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count > 0 {
		c.count--
	}
	return nil
}

func (c *LocalCounter) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, nil
}

// RedisCounter shares client_count across server instances using a Redis
// key. TryAdmit INCRs the key and, when the new value is over the cap,
// DECRs it back and refuses; INCR is atomic, so the cap is never exceeded,
// though concurrent refusals can briefly refuse a client a free slot.
type RedisCounter struct {
	rdb        *redis.Client
	key        string
	once       bool
	maxClients int
	ttl        time.Duration

	everServed atomic.Bool
}

func NewRedisCounter(rdb *redis.Client, key string, once bool, maxClients int) *RedisCounter {
	return &RedisCounter{rdb: rdb, key: key, once: once, maxClients: maxClients, ttl: 24 * time.Hour}
}

func (c *RedisCounter) TryAdmit(ctx context.Context) (bool, error) {
	if c.once && c.everServed.Load() {
		return false, nil
	}
	n, err := c.rdb.Incr(ctx, c.key).Result()
	if err != nil {
		return false, err
	}
	c.rdb.Expire(ctx, c.key, c.ttl)
	if c.maxClients > 0 && n > int64(c.maxClients) {
		c.rdb.Decr(ctx, c.key)
		return false, nil
	}
	if c.once && n > 1 {
		c.rdb.Decr(ctx, c.key)
		return false, nil
	}
	c.everServed.Store(true)
	return true, nil
}

func (c *RedisCounter) Release(ctx context.Context) error {
	return c.rdb.Decr(ctx, c.key).Err()
}

func (c *RedisCounter) Count(ctx context.Context) (int, error) {
	n, err := c.rdb.Get(ctx, c.key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
