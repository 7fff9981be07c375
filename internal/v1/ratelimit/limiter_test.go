package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludoverse/backend/internal/v1/config"
)

func newTestLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	cfg := &config.Config{
		RateLimitWsIp:       "3-M",
		RateLimitWsMessages: "5-M",
	}

	rl, err := New(cfg, rc)
	require.NoError(t, err)
	return rl, mr
}

func TestNew_MemoryFallback(t *testing.T) {
	cfg := &config.Config{
		RateLimitWsIp:       "5-M",
		RateLimitWsMessages: "10-S",
	}
	rl, err := New(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, rl)
}

func TestNew_InvalidRate(t *testing.T) {
	_, err := New(&config.Config{RateLimitWsIp: "nope", RateLimitWsMessages: "10-S"}, nil)
	assert.Error(t, err)

	_, err = New(&config.Config{RateLimitWsIp: "5-M", RateLimitWsMessages: "nope"}, nil)
	assert.Error(t, err)
}

func TestCheckWebSocket_EnforcesIPLimit(t *testing.T) {
	rl, _ := newTestLimiter(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		if !rl.CheckWebSocket(c) {
			return
		}
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
}

func TestAllowMessage_EnforcesPerConnectionLimit(t *testing.T) {
	rl, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, rl.AllowMessage(ctx, "conn-1"))
	}
	assert.False(t, rl.AllowMessage(ctx, "conn-1"))

	// Limits are per connection, not global.
	assert.True(t, rl.AllowMessage(ctx, "conn-2"))
}

func TestAllowMessage_FailsOpenWhenStoreDown(t *testing.T) {
	rl, mr := newTestLimiter(t)
	mr.Close()

	assert.True(t, rl.AllowMessage(context.Background(), "conn-1"))
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var rl *RateLimiter
	assert.True(t, rl.AllowMessage(context.Background(), "conn-1"))
}
