// Package ratelimit throttles API requests per client address.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/scribe-sentinel/internal/config"
)

// Limiter keeps one token bucket per client key
type Limiter struct {
	config  config.RateLimitConfig
	clients map[string]*client
	mu      sync.Mutex
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter from configuration
func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		config:  cfg,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow reports whether a request from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}

	now := l.now()
	return l.get(key, now).AllowN(now, 1)
}

func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		perSecond := rate.Limit(float64(l.config.RequestsPerMin) / 60.0)
		c = &client{limiter: rate.NewLimiter(perSecond, l.burst())}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (l *Limiter) burst() int {
	if l.config.Burst > 0 {
		return l.config.Burst
	}
	return 1
}

// Cleanup removes clients idle for longer than the configured TTL and
// returns how many were removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.config.IdleTTL)
	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (l *Limiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
