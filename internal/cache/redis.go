// Package cache keeps generated SOAP notes in Redis so an identical
// transcript is not sent to the model twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/scribe-sentinel/internal/config"
	"github.com/raaihank/scribe-sentinel/internal/soap"
)

// NoteCache handles Redis-based caching of generated notes
type NoteCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewNoteCache creates a new Redis-based note cache and checks the connection.
func NewNoteCache(cfg config.CacheConfig, logger *zap.Logger) (*NoteCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	cache := &NoteCache{
		client: redis.NewClient(opts),
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.Ping(ctx); err != nil {
		_ = cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Note cache initialized successfully",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return cache, nil
}

// Ping tests the Redis connection
func (nc *NoteCache) Ping(ctx context.Context) error {
	return nc.client.Ping(ctx).Err()
}

// Get looks up the note generated for transcript by model. A miss, a
// lookup error or a corrupt entry all report ok=false.
func (nc *NoteCache) Get(ctx context.Context, model, transcript string) (*CachedNote, bool) {
	key := noteKey(nc.config.KeyPrefix, model, transcript)

	data, err := nc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		nc.misses.Add(1)
		nc.logger.Debug("Cache miss", zap.String("key", key))
		return nil, false
	} else if err != nil {
		nc.misses.Add(1)
		nc.logger.Error("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	var cached CachedNote
	if err := json.Unmarshal(data, &cached); err != nil {
		nc.misses.Add(1)
		nc.logger.Error("Failed to unmarshal cached note", zap.Error(err))
		nc.client.Del(ctx, key)
		return nil, false
	}

	nc.hits.Add(1)
	nc.logger.Debug("Cache hit", zap.String("key", key))
	return &cached, true
}

// Store caches a note for transcript with the configured TTL
func (nc *NoteCache) Store(ctx context.Context, model, transcript string, note soap.Note) error {
	key := noteKey(nc.config.KeyPrefix, model, transcript)

	data, err := json.Marshal(CachedNote{
		Note:     note,
		Model:    model,
		CachedAt: time.Now().UTC(),
		TTL:      int64(nc.config.DefaultTTL.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal note for caching: %w", err)
	}

	if err := nc.client.Set(ctx, key, data, nc.config.DefaultTTL).Err(); err != nil {
		nc.logger.Error("Failed to cache note", zap.Error(err))
		return fmt.Errorf("failed to cache note: %w", err)
	}

	nc.logger.Debug("Note cached", zap.String("key", key))
	return nil
}

// Stats returns cache performance statistics
func (nc *NoteCache) Stats(ctx context.Context) (*CacheStats, error) {
	info, err := nc.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:        nc.hits.Load(),
		Misses:      nc.misses.Load(),
		MemoryUsage: parseUsedMemory(info),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	if keys, err := nc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes every key under the configured prefix
func (nc *NoteCache) Clear(ctx context.Context) error {
	iter := nc.client.Scan(ctx, 0, nc.config.KeyPrefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := nc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			nc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	nc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (nc *NoteCache) Close() error {
	if nc.client != nil {
		return nc.client.Close()
	}
	return nil
}

// noteKey derives the cache key from the model and the transcript text.
func noteKey(prefix, model, transcript string) string {
	hasher := sha256.New()
	hasher.Write([]byte(model))
	hasher.Write([]byte{0})
	hasher.Write([]byte(transcript))
	return fmt.Sprintf("%s:note:%s", prefix, hex.EncodeToString(hasher.Sum(nil)))
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	// the first colon belongs to the scheme
	if colon < 0 || colon == strings.Index(userPart, ":") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
