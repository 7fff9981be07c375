package presence

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ludoverse/backend/internal/v1/cache"
	"github.com/ludoverse/backend/internal/v1/logging"
	"go.uber.org/zap"
)

// Tracker maintains per-user connection counters in the cache so that any
// instance can answer "is this user online". Counter errors are logged and
// swallowed: presence is advisory, the repository stays authoritative.
type Tracker struct {
	cache *cache.Service
}

func NewTracker(c *cache.Service) *Tracker {
	return &Tracker{cache: c}
}

func connCountKey(userID string) string {
	return fmt.Sprintf("ws:user:%s:conn_count", userID)
}

// Connect increments the user's connection counter.
func (t *Tracker) Connect(ctx context.Context, userID string) {
	if _, err := t.cache.Incr(ctx, connCountKey(userID)); err != nil {
		logging.Warn(ctx, "presence connect failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Disconnect decrements the counter and deletes the key once it reaches zero.
func (t *Tracker) Disconnect(ctx context.Context, userID string) {
	key := connCountKey(userID)
	n, err := t.cache.Decr(ctx, key)
	if err != nil {
		logging.Warn(ctx, "presence disconnect failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if n <= 0 {
		if err := t.cache.Del(ctx, key); err != nil {
			logging.Warn(ctx, "presence key cleanup failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// IsOnline reports whether the user has at least one live connection anywhere.
func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	val, found, err := t.cache.Get(ctx, connCountKey(userID))
	if err != nil {
		logging.Warn(ctx, "presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	if !found {
		return false
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false
	}
	return n > 0
}
