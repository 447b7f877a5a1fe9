// Package cache implements the Redis-backed lookup cache from spec §6/§7:
// a best-effort AssetRecord cache keyed by asset id where failures are
// swallowed and treated as a miss rather than surfaced to the caller.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/cs2inspect/gateway/internal/domain"
)

// Cache wraps a redis client scoped under a key prefix.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

// New connects lazily; redis-go dials on first command.
func New(addr, password string, db int, prefix string, ttl time.Duration, log zerolog.Logger) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Cache{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (c *Cache) key(assetID uint64) string {
	return c.prefix + ":asset:" + strconv.FormatUint(assetID, 10)
}

// Lookup returns the cached record for assetID. Any Redis error, including
// a miss, returns nil: the caller treats both identically (spec §7
// "cache errors are swallowed and treated as a miss").
func (c *Cache) Lookup(ctx context.Context, assetID uint64) *domain.AssetRecord {
	raw, err := c.client.Get(ctx, c.key(assetID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Uint64("asset_id", assetID).Msg("cache lookup failed, treating as miss")
		}
		return nil
	}
	var rec domain.AssetRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.log.Warn().Err(err).Msg("cache record corrupt, treating as miss")
		return nil
	}
	return &rec
}

// Store writes rec into the cache, best-effort.
func (c *Cache) Store(ctx context.Context, rec domain.AssetRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(rec.AssetID), raw, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Uint64("asset_id", rec.AssetID).Msg("cache store failed")
	}
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
