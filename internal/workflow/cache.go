package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StepCache memoizes step results keyed by (run id, step name).
type StepCache interface {
	Get(ctx context.Context, runID, step string) ([]byte, bool, error)
	Put(ctx context.Context, runID, step string, payload []byte) error
	Delete(ctx context.Context, runID, step string) error
}

// runStep returns the memoized result of step when present, otherwise runs
// fn and memoizes its result. Failed steps are never memoized.
func runStep[T any](ctx context.Context, o *Orchestrator, runID, step string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	payload, ok, err := o.cache.Get(ctx, runID, step)
	if err != nil {
		return zero, fmt.Errorf("step %s: read cache: %w", step, err)
	}
	if ok {
		var cached T
		if err := json.Unmarshal(payload, &cached); err == nil {
			o.metrics.StepsTotal.WithLabelValues(step, stepCached).Inc()
			return cached, nil
		}
		o.log.Warn("discarding unreadable step result", logStep(runID, step)...)
	}

	start := time.Now()
	result, err := fn(ctx)
	o.metrics.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	if err != nil {
		o.metrics.StepsTotal.WithLabelValues(step, stepFailed).Inc()
		return zero, fmt.Errorf("step %s: %w", step, err)
	}
	o.metrics.StepsTotal.WithLabelValues(step, stepExecuted).Inc()

	payload, err = json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("step %s: encode result: %w", step, err)
	}
	if err := o.cache.Put(ctx, runID, step, payload); err != nil {
		return zero, fmt.Errorf("step %s: write cache: %w", step, err)
	}
	return result, nil
}

// RedisConfig holds Redis connection settings for the step cache.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

const redisConnectTimeout = 5 * time.Second

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisCache stores step results in Redis with an expiry.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. A zero ttl keeps entries forever.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// StepKey is the Redis key holding one step result.
func StepKey(runID, step string) string {
	return "trove:step:" + runID + ":" + step
}

// Get implements StepCache.
func (c *RedisCache) Get(ctx context.Context, runID, step string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, StepKey(runID, step)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Put implements StepCache.
func (c *RedisCache) Put(ctx context.Context, runID, step string, payload []byte) error {
	return c.client.Set(ctx, StepKey(runID, step), payload, c.ttl).Err()
}

// Delete implements StepCache.
func (c *RedisCache) Delete(ctx context.Context, runID, step string) error {
	return c.client.Del(ctx, StepKey(runID, step)).Err()
}
