package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fieldSuccess = "ok"
	fieldFailure = "fail"
)

// RedisTracker keeps hourly outcome hashes in Redis so every gateway replica
// reports the same success rate
type RedisTracker struct {
	client *redis.Client
	window time.Duration
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisTracker creates a tracker over an existing client
func NewRedisTracker(client *redis.Client, window time.Duration, logger *zap.Logger) *RedisTracker {
	return &RedisTracker{
		client: client,
		window: window,
		prefix: "enhance:stats",
		logger: logger,
		now:    time.Now,
	}
}

// NewRedisClient parses a redis:// URL and verifies connectivity
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (t *RedisTracker) bucketKey(provider, bucket string) string {
	return fmt.Sprintf("%s:%s:%s", t.prefix, provider, bucket)
}

func (t *RedisTracker) lastErrorKey(provider string) string {
	return fmt.Sprintf("%s:%s:last_error", t.prefix, provider)
}

func (t *RedisTracker) record(ctx context.Context, provider, field string) error {
	key := t.bucketKey(provider, bucketKeys(t.now(), time.Hour)[0])
	pipe := t.client.TxPipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.Expire(ctx, key, t.window+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record %s outcome for %s: %w", field, provider, err)
	}
	return nil
}

// RecordSuccess counts a successful call
func (t *RedisTracker) RecordSuccess(ctx context.Context, provider string) error {
	return t.record(ctx, provider, fieldSuccess)
}

// RecordFailure counts a failed call and remembers its message
func (t *RedisTracker) RecordFailure(ctx context.Context, provider, message string) error {
	if err := t.record(ctx, provider, fieldFailure); err != nil {
		return err
	}
	if err := t.client.Set(ctx, t.lastErrorKey(provider), message, t.window).Err(); err != nil {
		return fmt.Errorf("failed to store last error for %s: %w", provider, err)
	}
	return nil
}

// SuccessRate sums the hourly buckets inside the window
func (t *RedisTracker) SuccessRate(ctx context.Context, provider string) (float64, error) {
	buckets := bucketKeys(t.now(), t.window)
	pipe := t.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(buckets))
	for i, b := range buckets {
		cmds[i] = pipe.HMGet(ctx, t.bucketKey(provider, b), fieldSuccess, fieldFailure)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to read stats for %s: %w", provider, err)
	}

	var total Counts
	for _, cmd := range cmds {
		var c struct {
			Success int64 `redis:"ok"`
			Failure int64 `redis:"fail"`
		}
		if err := cmd.Scan(&c); err != nil {
			t.logger.Warn("skipping unreadable stats bucket", zap.String("provider", provider), zap.Error(err))
			continue
		}
		total.Success += c.Success
		total.Failure += c.Failure
	}

	return Rate(total), nil
}

// LastError returns the stored failure message
func (t *RedisTracker) LastError(ctx context.Context, provider string) (string, error) {
	msg, err := t.client.Get(ctx, t.lastErrorKey(provider)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last error for %s: %w", provider, err)
	}
	return msg, nil
}
