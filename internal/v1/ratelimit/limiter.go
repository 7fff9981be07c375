// Package ratelimit throttles WebSocket connection attempts and in-band
// message traffic, backed by Redis when available so limits hold across pods.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/ludoverse/backend/internal/v1/config"
	"github.com/ludoverse/backend/internal/v1/logging"
	"github.com/ludoverse/backend/internal/v1/metrics"
)

// RateLimiter holds one limiter per scope: connection attempts keyed by
// client IP, and message frames keyed by connection id.
type RateLimiter struct {
	wsIP     *limiter.Limiter
	messages *limiter.Limiter
	store    limiter.Store
}

// New builds the limiters from the configured rate strings ("100-M" style).
// A nil redisClient falls back to a per-pod in-memory store.
func New(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	ipRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIp)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	msgRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsMessages)
	if err != nil {
		return nil, fmt.Errorf("invalid WS message rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "⚠️  Rate limiter using Memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		wsIP:     limiter.New(store, ipRate),
		messages: limiter.New(store, msgRate),
		store:    store,
	}, nil
}

// CheckWebSocket gates a connection attempt by client IP. It writes the
// 429 response itself and returns false when the limit is reached. Store
// failures fail open.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	if rl == nil {
		return true
	}
	ctx := c.Request.Context()

	ipContext, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connection attempts from this IP"})
		return false
	}
	return true
}

// AllowMessage gates one inbound frame for a connection. Store failures
// fail open.
func (rl *RateLimiter) AllowMessage(ctx context.Context, connectionID string) bool {
	if rl == nil {
		return true
	}

	msgContext, err := rl.messages.Get(ctx, "conn:"+connectionID)
	if err != nil {
		logging.Error(ctx, "WS message rate limiter store failed", zap.Error(err))
		return true
	}

	if msgContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_message", "connection").Inc()
		return false
	}
	return true
}
