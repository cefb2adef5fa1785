package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultVerifyMaxAttempts = 5
	defaultVerifyCooldown    = time.Minute
)

var (
	ErrVerifyRateLimited = errors.New("verification rate limited")
	ErrVerifyUnavailable = errors.New("verification limiter unavailable")
)

// VerifyConfig holds the thresholds for the code-verification limiter.
type VerifyConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// VerifyLimiter is a fixed-window failure counter per (org, owner). Keys
// expire after the cooldown, so a quiet owner resets for free. Nil receivers
// and nil clients count nothing and never deny.
type VerifyLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	cooldown    time.Duration
}

// NewVerifyLimiter creates the limiter. Zero-value fields in cfg fall back
// to defaults (5 attempts / 60s).
func NewVerifyLimiter(redisClient redis.UniversalClient, cfg VerifyConfig) *VerifyLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultVerifyMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultVerifyCooldown
	}
	return &VerifyLimiter{redis: redisClient, maxAttempts: int64(max), cooldown: cd}
}

func (l *VerifyLimiter) key(orgID, ownerID string) string {
	return "tfv:" + normalizeOrgID(orgID) + ":" + ownerID
}

func (l *VerifyLimiter) Check(ctx context.Context, orgID, ownerID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(orgID, ownerID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrVerifyRateLimited
	}
	return nil
}

func (l *VerifyLimiter) RecordFailure(ctx context.Context, orgID, ownerID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Incr(ctx, l.key(orgID, ownerID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(orgID, ownerID), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrVerifyRateLimited
	}
	return nil
}

func (l *VerifyLimiter) Reset(ctx context.Context, orgID, ownerID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(orgID, ownerID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	return nil
}

func normalizeOrgID(orgID string) string {
	if orgID == "" {
		return "0"
	}
	return orgID
}
