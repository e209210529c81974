// Package cache provides the shared key-value cache service and the
// two-tier prompt result cache built on top of it.
//
// Every operation degrades to a miss when the backing Redis is unreachable.
// Callers never see a cache error; caching here is strictly best-effort.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// KV is a thin JSON key-value wrapper around Redis. A nil client (Redis
// unreachable at startup, or no address configured) turns every call into
// a no-op / miss.
type KV struct {
	client *redis.Client
}

// NewKV connects to Redis. Connection failure is logged and tolerated:
// the returned KV operates in no-op mode.
func NewKV(ctx context.Context, addr, password string, db int) *KV {
	if addr == "" {
		log.Info().Msg("Cache disabled (no Redis address)")
		return &KV{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("Redis unreachable, cache in no-op mode")
		return &KV{}
	}

	log.Info().Str("addr", addr).Msg("Redis cache connected")
	return &KV{client: client}
}

// NewKVFromClient wraps an existing client. Used by tests with miniature
// or mock backends.
func NewKVFromClient(client *redis.Client) *KV {
	return &KV{client: client}
}

// Enabled reports whether a backing Redis connection exists.
func (k *KV) Enabled() bool { return k.client != nil }

// Get unmarshals the value at key into dest. Returns false on miss,
// backend error, or no-op mode.
func (k *KV) Get(ctx context.Context, key string, dest any) bool {
	if k.client == nil {
		return false
	}
	raw, err := k.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Cache get failed")
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Cache entry corrupt, discarding")
		k.Delete(ctx, key)
		return false
	}
	return true
}

// Set stores value as JSON under key. A zero ttl stores without expiry.
// Failures are logged and swallowed.
func (k *KV) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if k.client == nil {
		return false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Cache value not serializable")
		return false
	}
	if err := k.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Cache set failed")
		return false
	}
	return true
}

// Delete removes a key. Returns true when a key was actually removed.
func (k *KV) Delete(ctx context.Context, key string) bool {
	if k.client == nil {
		return false
	}
	n, err := k.client.Del(ctx, key).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Cache delete failed")
		return false
	}
	return n > 0
}

// Exists reports whether key is present. No-op mode always reports false.
func (k *KV) Exists(ctx context.Context, key string) bool {
	if k.client == nil {
		return false
	}
	n, err := k.client.Exists(ctx, key).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Cache exists failed")
		return false
	}
	return n > 0
}

// Close releases the underlying connection.
func (k *KV) Close() error {
	if k.client == nil {
		return nil
	}
	return k.client.Close()
}
