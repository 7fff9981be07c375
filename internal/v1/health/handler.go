package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ludoverse/backend/internal/v1/logging"
)

// Pinger is the liveness surface of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the Kubernetes-style liveness and readiness probes.
type Handler struct {
	db    Pinger
	cache Pinger
}

// NewHandler creates a health handler. cache may be nil when Redis is
// disabled; it is then skipped in readiness.
func NewHandler(db, cache Pinger) *Handler {
	return &Handler{db: db, cache: cache}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 whenever the process is
// alive; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only when Postgres (and
// Redis, when configured) answer a ping; 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	var pgStatus, redisStatus string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pgStatus = h.check(gctx, "postgres", h.db)
		return nil
	})
	if h.cache != nil {
		g.Go(func() error {
			redisStatus = h.check(gctx, "redis", h.cache)
			return nil
		})
	}
	_ = g.Wait()

	checks := map[string]string{"postgres": pgStatus}
	allHealthy := pgStatus == "healthy"
	if h.cache != nil {
		checks["redis"] = redisStatus
		if redisStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) check(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "unhealthy"
	}
	if err := p.Ping(ctx); err != nil {
		logging.Error(ctx, "health check failed", zap.String("backend", name), zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
