// Package ratelimit bounds how many commands a single client connection may
// send per minute, using Redis or local memory as the counting store.
package ratelimit

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"roomcluster/internal/v1/logging"
	"roomcluster/internal/v1/metrics"
)

// CommandLimiter enforces a per-client command rate. It exists purely as
// transport hardening against a misbehaving or malicious client flooding a
// room with requests; it is not, and is not meant to be, anti-cheat
// (spec.md §6).
type CommandLimiter struct {
	limiter *limiter.Limiter
}

// New builds a CommandLimiter from a formatted rate string (e.g. "120-M"),
// backed by Redis if redisClient is non-nil, or an in-memory store otherwise.
func New(rate string, redisClient *redis.Client) (*CommandLimiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "roomcluster:ratelimit:",
		})
		if err != nil {
			return nil, err
		}
		logging.Info(context.Background(), "command rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "command rate limiter using memory store")
	}

	return &CommandLimiter{limiter: limiter.New(store, parsed)}, nil
}

// Allow reports whether clientID may send another command right now. A
// store failure fails open: availability of the room matters more than
// strict enforcement of a hardening limit.
func (c *CommandLimiter) Allow(ctx context.Context, clientID string) bool {
	if c == nil || c.limiter == nil {
		return true
	}
	limiterCtx, err := c.limiter.Get(ctx, clientID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed, allowing command", zap.Error(err), zap.String("client", clientID))
		return true
	}
	if limiterCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues(clientID).Inc()
		return false
	}
	return true
}
