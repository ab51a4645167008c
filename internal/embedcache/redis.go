package embedcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// redisTier is an optional low-latency accelerator in front of a fileCache.
// It is never the sole source of truth: a miss or a Redis outage always
// falls through to disk, so deleting Redis data is as safe as deleting the
// file cache.
type redisTier struct {
	client redis.UniversalClient
	ttl    time.Duration
	next   Cache
}

// RedisConfig configures the accelerator tier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisTier wraps next (normally a file cache) with a Redis-backed
// read-through/write-through accelerator. Returns next unchanged if Redis
// is unreachable, so startup never fails because of a missing cache tier.
func NewRedisTier(cfg RedisConfig, next Cache) Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("embedcache_redis_unreachable_falling_back_to_disk")
		return next
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisTier{client: client, ttl: ttl, next: next}
}

func (c *redisTier) redisKey(key string) string {
	return fmt.Sprintf("embedcache:%s", key)
}

func (c *redisTier) Get(ctx context.Context, text, model string) ([]float32, bool) {
	key := Key(text, model)
	val, err := c.client.Get(ctx, c.redisKey(key)).Result()
	if err == nil {
		var vec []float32
		if jerr := json.Unmarshal([]byte(val), &vec); jerr == nil {
			return vec, true
		}
	}
	if err != nil && err != redis.Nil {
		log.Debug().Err(err).Str("key", key).Msg("embedcache_redis_get_error")
	}
	if vec, ok := c.next.Get(ctx, text, model); ok {
		c.writeThrough(ctx, key, vec)
		return vec, true
	}
	return nil, false
}

func (c *redisTier) Put(ctx context.Context, text, model string, vector []float32) {
	key := Key(text, model)
	c.next.Put(ctx, text, model, vector)
	c.writeThrough(ctx, key, vector)
}

func (c *redisTier) writeThrough(ctx context.Context, key string, vector []float32) {
	b, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.redisKey(key), b, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("embedcache_redis_set_error")
	}
}
