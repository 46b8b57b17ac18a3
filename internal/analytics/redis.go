// Package analytics records warranty run outcomes into Redis as
// time-bucketed counters, keyed by plan and outcome. The counters feed
// the sales dashboard; losing them is acceptable, so writes are
// best-effort and callers ignore errors.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slotshare/warranty/internal/domain"
)

const (
	defaultWindow    = time.Hour
	defaultRetention = 90 * 24 * time.Hour
)

type RedisSink struct {
	client    *redis.Client
	window    time.Duration
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:    client,
		window:    defaultWindow,
		retention: defaultRetention,
	}
}

// WithWindow sets the bucketing window for outcome counters.
func (s *RedisSink) WithWindow(window time.Duration) *RedisSink {
	s.window = window
	return s
}

// WithRetention sets the TTL applied to each counter key.
func (s *RedisSink) WithRetention(retention time.Duration) *RedisSink {
	s.retention = retention
	return s
}

// Record increments the outcome counter for planID in the current time
// bucket and refreshes the key's TTL.
func (s *RedisSink) Record(ctx context.Context, planID string, outcome domain.RunOutcome) error {
	key := buildKey(planID, outcome, time.Now(), s.window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func buildKey(planID string, outcome domain.RunOutcome, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("warranty:stats:%s:%s:%s", planID, outcome, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Format("2006010215")
	}
}
