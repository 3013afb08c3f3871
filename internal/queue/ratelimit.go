package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrDuplicate = errors.New("turn already submitted")

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RateLimiter caps async turns per user per hour. A limit of zero or less
// disables it.
type RateLimiter struct {
	redis *redis.Client
	limit int64
}

func NewRateLimiter(rdb *redis.Client, limit int64) *RateLimiter {
	return &RateLimiter{redis: rdb, limit: limit}
}

func (r *RateLimiter) Allow(ctx context.Context, userID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	if r == nil || r.limit <= 0 {
		return true, 0, windowEnd, nil
	}
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("aichat:ratelimit:%s:%s", userID, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// TurnDeduplicator remembers caller supplied turn ids for a while so a
// resubmitted turn is not run twice.
type TurnDeduplicator struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewTurnDeduplicator(rdb *redis.Client, ttl time.Duration) *TurnDeduplicator {
	return &TurnDeduplicator{redis: rdb, ttl: ttl}
}

// MarkFirst returns ErrDuplicate when the user already submitted turnID.
func (d *TurnDeduplicator) MarkFirst(ctx context.Context, userID, turnID string) error {
	ok, err := d.redis.SetNX(ctx, dedupeKey(userID, turnID), "1", d.ttl).Result()
	if err != nil {
		return fmt.Errorf("dedupe setnx: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

// Release forgets turnID so the user can submit it again. Callers use it when
// a claimed turn never made it onto the queue.
func (d *TurnDeduplicator) Release(ctx context.Context, userID, turnID string) error {
	if err := d.redis.Del(ctx, dedupeKey(userID, turnID)).Err(); err != nil {
		return fmt.Errorf("dedupe release: %w", err)
	}
	return nil
}

func dedupeKey(userID, turnID string) string {
	return fmt.Sprintf("aichat:turn:%s:%s", userID, turnID)
}
