package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyServiceTypes = "catalog:service_types"
	keyWorkingHours = "catalog:working_hours"

	recoveryInterval = time.Minute
)

// Cache keeps catalog reads in Redis. When Redis fails it switches to
// pass-through mode and retries Redis after recoveryInterval. An
// invalidation that could not reach Redis is replayed before the first
// read or write after recovery, so keys cached before the outage are
// never served.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger

	isDown    atomic.Bool
	stale     atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewCache(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) available() bool {
	if c == nil || c.client == nil {
		return false
	}
	if !c.isDown.Load() {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastCheck) < recoveryInterval {
		return false
	}
	c.lastCheck = time.Now()
	return true
}

func (c *Cache) markDown(err error) {
	c.mu.Lock()
	c.lastCheck = time.Now()
	c.mu.Unlock()
	if !c.isDown.Swap(true) {
		c.logger.Warn().Err(err).Msg("Redis unavailable, reading catalog from database")
	}
}

func (c *Cache) markUp() {
	if c.isDown.Swap(false) {
		c.logger.Info().Msg("Redis recovered, catalog cache re-enabled")
	}
}

// ready reports whether Redis may be used, first dropping keys left over
// from a failed Invalidate.
func (c *Cache) ready(ctx context.Context) bool {
	if !c.available() {
		return false
	}
	if !c.stale.Load() {
		return true
	}
	if err := c.client.Del(ctx, keyServiceTypes, keyWorkingHours).Err(); err != nil {
		c.markDown(err)
		return false
	}
	c.stale.Store(false)
	c.logger.Info().Msg("Replayed pending catalog cache invalidation")
	return true
}

// read decodes key into out and reports a hit.
func (c *Cache) read(ctx context.Context, key string, out any) bool {
	if !c.ready(ctx) {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.markUp()
		return false
	}
	if err != nil {
		c.markDown(err)
		return false
	}
	c.markUp()
	return json.Unmarshal(data, out) == nil
}

func (c *Cache) write(ctx context.Context, key string, val any) {
	if !c.ready(ctx) {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.markDown(err)
	}
}

// Invalidate drops every cached catalog key. If Redis is unreachable the
// drop is remembered and retried once Redis is back.
func (c *Cache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, keyServiceTypes, keyWorkingHours).Err(); err != nil {
		c.stale.Store(true)
		c.markDown(err)
		return
	}
	c.stale.Store(false)
}
