package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fieldroute/internal/geo"
	"fieldroute/internal/metrics"
	"fieldroute/internal/obs"
	"fieldroute/internal/opt"
)

// Cache stores matrices by Key.
type Cache interface {
	Get(ctx context.Context, key string) (opt.TravelMatrix, bool, error)
	Put(ctx context.Context, key string, tm opt.TravelMatrix) error
}

// MemoryCache is a process-local Cache. Entries never expire.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]opt.TravelMatrix
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]opt.TravelMatrix{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) (opt.TravelMatrix, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tm, ok := c.items[key]
	if !ok {
		return opt.TravelMatrix{}, false, nil
	}
	return clone(tm), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, tm opt.TravelMatrix) error {
	c.mu.Lock()
	c.items[key] = clone(tm)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// RedisCache keeps matrices as JSON strings with a TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects using a redis:// URL.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return NewRedisCacheClient(redis.NewClient(o), ttl), nil
}

func NewRedisCacheClient(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (opt.TravelMatrix, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return opt.TravelMatrix{}, false, nil
	}
	if err != nil {
		return opt.TravelMatrix{}, false, fmt.Errorf("redis cache get: %w", err)
	}
	var w wireMatrix
	if err := json.Unmarshal(b, &w); err != nil {
		return opt.TravelMatrix{}, false, fmt.Errorf("redis cache decode %s: %w", key, err)
	}
	return fromWire(w), true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, tm opt.TravelMatrix) error {
	b, err := json.Marshal(toWire(tm))
	if err != nil {
		return fmt.Errorf("redis cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.rdb.Close() }

// Cached serves matrices from Cache and falls through to Provider on a miss.
// Cache failures are logged and never fail the lookup.
type Cached struct {
	Provider Provider
	Cache    Cache
}

func (c *Cached) Matrix(ctx context.Context, points []geo.Point, class opt.VehicleClass) (opt.TravelMatrix, error) {
	key := Key(points, class)
	tm, ok, err := c.Cache.Get(ctx, key)
	if err != nil {
		log.Printf("req_id=%s op=matrix.cache.get key=%s err=%v", obs.RequestID(ctx), key, err)
	}
	if ok && checkShape(tm, len(points)) == nil {
		metrics.MatrixRequests.WithLabelValues(class.String(), "hit").Inc()
		return tm, nil
	}
	tm, err = c.Provider.Matrix(ctx, points, class)
	if err != nil {
		metrics.MatrixRequests.WithLabelValues(class.String(), "error").Inc()
		return opt.TravelMatrix{}, err
	}
	metrics.MatrixRequests.WithLabelValues(class.String(), "miss").Inc()
	if err := c.Cache.Put(ctx, key, tm); err != nil {
		log.Printf("req_id=%s op=matrix.cache.put key=%s err=%v", obs.RequestID(ctx), key, err)
	}
	return tm, nil
}
