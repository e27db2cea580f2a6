package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fxwallet/wallet-engine/internal/model"
)

// RedisCache implements Cache on Redis so the hot rate tier is shared
// across instances. Entries carry the configured TTL; a miss or any Redis
// error just falls through to the next pipeline tier.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis-backed rate cache with the given TTL.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, source, dest model.Currency) (*model.RateQuote, bool) {
	data, err := c.rdb.Get(ctx, rateKey(source, dest)).Bytes()
	if err != nil {
		return nil, false
	}

	var quote model.RateQuote
	if json.Unmarshal(data, &quote) != nil {
		return nil, false
	}
	return &quote, true
}

func (c *RedisCache) Put(ctx context.Context, quote *model.RateQuote) {
	data, err := json.Marshal(quote)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, rateKey(quote.Source, quote.Dest), data, c.ttl)
}

func rateKey(source, dest model.Currency) string {
	return fmt.Sprintf("rate:%s:%s", source, dest)
}
