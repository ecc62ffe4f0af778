package cache

import (
	"time"

	"github.com/raaihank/scribe-sentinel/internal/soap"
)

// CachedNote is a generated note stored under the hash of the transcript
// that produced it. Only de-identified text ever reaches the cache.
type CachedNote struct {
	Note     soap.Note `json:"note"`
	Model    string    `json:"model"`
	CachedAt time.Time `json:"cached_at"`
	TTL      int64     `json:"ttl"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}
