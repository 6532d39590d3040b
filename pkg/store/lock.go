package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/replicatedhq/chartsmith/pkg/errs"
	"github.com/replicatedhq/chartsmith/pkg/logger"
)

var redisClient *redis.Client

func InitRedis(url string) error {
	if url == "" {
		logger.Warn("no redis URL configured, run ownership falls back to single-process assumption")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient = redis.NewClient(opts)
	return redisClient.Ping(context.Background()).Err()
}

// OwnershipLock is a SETNX-based exclusive lock ensuring a run record is
// owned by exactly one process — the one handling its start request.
type OwnershipLock struct {
	runID string
	token string
}

// AcquireOwnership attempts to claim exclusive ownership of runID for ttl.
// If Redis is not configured, ownership is assumed by the single process
// (ok=true) since there is no other process to contend with.
func AcquireOwnership(ctx context.Context, runID string, ttl time.Duration) (*OwnershipLock, bool, error) {
	if redisClient == nil {
		return &OwnershipLock{runID: runID}, true, nil
	}

	token := fmt.Sprintf("%d", time.Now().UnixNano())
	key := ownershipKey(runID)

	ok, err := redisClient.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, errs.New(errs.KindInternal, fmt.Errorf("acquire ownership lock: %w", err))
	}
	if !ok {
		return nil, false, nil
	}

	return &OwnershipLock{runID: runID, token: token}, true, nil
}

// Release removes the lock iff it still holds the token this process set —
// a stale lock from a crashed process is never released by someone else,
// it simply expires via ttl.
func (l *OwnershipLock) Release(ctx context.Context) {
	if redisClient == nil || l.token == "" {
		return
	}
	key := ownershipKey(l.runID)
	val, err := redisClient.Get(ctx, key).Result()
	if err == nil && val == l.token {
		redisClient.Del(ctx, key)
	}
}

func ownershipKey(runID string) string {
	return fmt.Sprintf("agentic:run-owner:%s", runID)
}

// RateLimiter is a sliding-window limiter over outbound capability calls,
// built on ZRemRangeByScore/ZCount/ZAdd. No package constructs one: outbound
// calls are throttled only by the local token bucket in pkg/executor.
type RateLimiter struct {
	requestsPerMinute int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{requestsPerMinute: requestsPerMinute}
}

// Allow reports whether the caller identified by key may proceed now.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if redisClient == nil {
		return true, nil
	}

	now := time.Now()
	windowStart := now.Add(-time.Minute)
	rateLimitKey := fmt.Sprintf("agentic:ratelimit:%s", key)

	if err := redisClient.ZRemRangeByScore(ctx, rateLimitKey, "0", fmt.Sprintf("%d", windowStart.UnixMicro())).Err(); err != nil {
		return true, errs.New(errs.KindInternal, err)
	}

	count, err := redisClient.ZCount(ctx, rateLimitKey, fmt.Sprintf("%d", windowStart.UnixMicro()), "+inf").Result()
	if err != nil {
		// fail open: a saturated limiter must never stall a run
		return true, nil
	}

	if count >= int64(r.requestsPerMinute) {
		return false, nil
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	if err := redisClient.ZAdd(ctx, rateLimitKey, &redis.Z{Score: float64(now.UnixMicro()), Member: member}).Err(); err != nil {
		return true, nil
	}
	redisClient.Expire(ctx, rateLimitKey, 2*time.Minute)

	return true, nil
}
