package matrix

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig throttles outbound calls before they reach the homeserver. It is off
// unless Enabled is set; buckets left at their zero value fall back to
// DefaultRateLimitConfig.
type RateLimitConfig struct {
	// RoomCreation limits createRoom calls
	RoomCreation TokenBucketConfig `yaml:"roomCreation"`
	// Messages limits message sends
	Messages TokenBucketConfig `yaml:"messages"`
	// Invites limits room invitations
	Invites TokenBucketConfig `yaml:"invites"`
	Enabled bool              `yaml:"enabled"`
}

// TokenBucketConfig defines token bucket parameters.
type TokenBucketConfig struct {
	// Rate is tokens per second added to the bucket
	Rate float64 `yaml:"rate"`
	// BurstSize is the bucket capacity
	BurstSize int `yaml:"burstSize"`
	// Interval is a minimum spacing between operations, used instead of Rate when set
	Interval time.Duration `yaml:"interval"`
}

func (c TokenBucketConfig) isZero() bool {
	return c.Rate == 0 && c.BurstSize == 0 && c.Interval == 0
}

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64       // tokens per second
	burstSize  int           // maximum tokens
	tokens     float64       // current tokens
	lastRefill time.Time     // last refill time
	interval   time.Duration // minimum interval between operations
	lastOp     time.Time     // last operation time (for interval-based limiting)
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(config TokenBucketConfig) *TokenBucket {
	return &TokenBucket{
		rate:       config.Rate,
		burstSize:  config.BurstSize,
		tokens:     float64(config.BurstSize),
		lastRefill: time.Now(),
		interval:   config.Interval,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()

	if tb.interval > 0 {
		if !tb.lastOp.IsZero() && now.Sub(tb.lastOp) < tb.interval {
			return false
		}
		tb.lastOp = now
		return true
	}

	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.rate
	if tb.tokens > float64(tb.burstSize) {
		tb.tokens = float64(tb.burstSize)
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx ends.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		waitTime := tb.waitTime()
		if waitTime <= 0 {
			continue
		}

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (tb *TokenBucket) waitTime() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.interval > 0 {
		if tb.lastOp.IsZero() {
			return 0
		}
		elapsed := time.Since(tb.lastOp)
		if elapsed >= tb.interval {
			return 0
		}
		return tb.interval - elapsed
	}

	if tb.tokens >= 1.0 {
		return 0
	}
	if tb.rate <= 0 {
		return time.Hour
	}
	return time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second))
}

// DefaultRateLimitConfig mirrors Synapse's default client limits, loosened for an
// appservice. Enabled is left false.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RoomCreation: TokenBucketConfig{Rate: 0.5, BurstSize: 5},
		Messages:     TokenBucketConfig{Rate: 0.2, BurstSize: 10},
		Invites:      TokenBucketConfig{Rate: 0.3, BurstSize: 10},
	}
}

type rateLimiter struct {
	rooms    *TokenBucket
	messages *TokenBucket
	invites  *TokenBucket
}

// newRateLimiter returns nil when limiting is disabled.
func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if !cfg.Enabled {
		return nil
	}
	defaults := DefaultRateLimitConfig()
	pick := func(c, fallback TokenBucketConfig) *TokenBucket {
		if c.isZero() {
			c = fallback
		}
		return NewTokenBucket(c)
	}
	return &rateLimiter{
		rooms:    pick(cfg.RoomCreation, defaults.RoomCreation),
		messages: pick(cfg.Messages, defaults.Messages),
		invites:  pick(cfg.Invites, defaults.Invites),
	}
}

func (r *rateLimiter) waitRoom(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.rooms.Wait(ctx)
}

func (r *rateLimiter) waitMessage(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.messages.Wait(ctx)
}

func (r *rateLimiter) waitInvite(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.invites.Wait(ctx)
}
