package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ludoverse/backend/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Service is the typed adapter over Redis used for presence counters and
// denormalized room snapshots. Every operation is fallible and non-fatal:
// callers log and continue with the repository as source of truth. A nil
// *Service is valid and turns every operation into a no-op.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a robust Redis connection with a circuit breaker.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// execute runs op through the circuit breaker with uniform degradation:
// an open breaker is logged once per call and reported as ErrOpenState.
func (s *Service) execute(op string, key string, fn func() (interface{}, error)) (interface{}, error) {
	res, err := s.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis circuit breaker open, skipping operation", "op", op, "key", key)
			return nil, err
		}
		slog.Error("Redis operation failed", "op", op, "key", key, "error", err)
		return nil, fmt.Errorf("redis %s: %w", op, err)
	}
	return res, nil
}

// Get fetches a string value. A missing key returns ("", false, nil).
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, nil
	}
	res, err := s.execute("get", key, func() (interface{}, error) {
		v, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil, nil
		}
		return v, err
	})
	if err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	return res.(string), true, nil
}

// SetEx stores a string value with an optional expiry (0 = no TTL).
func (s *Service) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.execute("setex", key, func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	return err
}

// HSet writes hash fields from a map.
func (s *Service) HSet(ctx context.Context, key string, fields map[string]string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	_, err := s.execute("hset", key, func() (interface{}, error) {
		return nil, s.client.HSet(ctx, key, args...).Err()
	})
	return err
}

// HGet fetches one hash field. A missing field returns ("", false, nil).
func (s *Service) HGet(ctx context.Context, key, field string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, nil
	}
	res, err := s.execute("hget", key, func() (interface{}, error) {
		v, err := s.client.HGet(ctx, key, field).Result()
		if err == redis.Nil {
			return nil, nil
		}
		return v, err
	})
	if err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	return res.(string), true, nil
}

// HGetAll fetches every field of a hash.
func (s *Service) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.execute("hgetall", key, func() (interface{}, error) {
		return s.client.HGetAll(ctx, key).Result()
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.(map[string]string), nil
}

// SAdd adds a member to a set.
func (s *Service) SAdd(ctx context.Context, key, member string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.execute("sadd", key, func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})
	return err
}

// SRem removes a member from a set.
func (s *Service) SRem(ctx context.Context, key, member string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.execute("srem", key, func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})
	return err
}

// SIsMember reports set membership.
func (s *Service) SIsMember(ctx context.Context, key, member string) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	res, err := s.execute("sismember", key, func() (interface{}, error) {
		return s.client.SIsMember(ctx, key, member).Result()
	})
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}
	return res.(bool), nil
}

// SCard returns the cardinality of a set.
func (s *Service) SCard(ctx context.Context, key string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, nil
	}
	res, err := s.execute("scard", key, func() (interface{}, error) {
		return s.client.SCard(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	return res.(int64), nil
}

// Incr atomically increments an integer counter and returns the new value.
func (s *Service) Incr(ctx context.Context, key string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, nil
	}
	res, err := s.execute("incr", key, func() (interface{}, error) {
		return s.client.Incr(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	return res.(int64), nil
}

// Decr atomically decrements an integer counter and returns the new value.
func (s *Service) Decr(ctx context.Context, key string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, nil
	}
	res, err := s.execute("decr", key, func() (interface{}, error) {
		return s.client.Decr(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	return res.(int64), nil
}

// Del removes one or more keys.
func (s *Service) Del(ctx context.Context, keys ...string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if len(keys) == 0 {
		return nil
	}
	_, err := s.execute("del", keys[0], func() (interface{}, error) {
		return nil, s.client.Del(ctx, keys...).Err()
	})
	return err
}

// Exists reports whether a key exists.
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	res, err := s.execute("exists", key, func() (interface{}, error) {
		return s.client.Exists(ctx, key).Result()
	})
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}
	return res.(int64) > 0, nil
}

// Ping checks Redis connectivity. Used by readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
