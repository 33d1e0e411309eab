package admission

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lockout applies a tiered backoff to repeated failed Basic-auth attempts
// from the same remote address, reusing the teacher's LoginLockout tiering
// verbatim (services/loginlockout.go): 3 fails -> 15m, 6 -> 30m, 9 -> 60m,
// doubling each tier, capped at 24h. There the key was a username; here it
// is a remote address, since gottyd has no user table of its own.
type Lockout struct {
	rdb    *redis.Client
	logger *zap.Logger
}

const (
	lockoutKeyPrefix  = "gottyd:lockout:"
	lockoutTTL        = 25 * time.Hour
	failThreshold     = 3
	maxLockoutMinutes = 24 * 60
)

func NewLockout(rdb *redis.Client, logger *zap.Logger) *Lockout {
	return &Lockout{rdb: rdb, logger: logger}
}

func lockoutDuration(failCount int64) time.Duration {
	tier := failCount / failThreshold
	if tier <= 0 {
		return 0
	}
	minutes := int64(15)
	for i := int64(1); i < tier && minutes < maxLockoutMinutes; i++ {
		minutes *= 2
	}
	if minutes > maxLockoutMinutes {
		minutes = maxLockoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// IsLocked returns (locked, remaining seconds until unlock).
func (l *Lockout) IsLocked(ctx context.Context, remoteAddr string) (bool, int) {
	key := lockoutKeyPrefix + remoteAddr
	lockedUntil, err := l.rdb.HGet(ctx, key, "locked_until").Result()
	if err != nil {
		return false, 0
	}
	ts, err := strconv.ParseInt(lockedUntil, 10, 64)
	if err != nil {
		return false, 0
	}
	until := time.Unix(ts, 0)
	if time.Now().After(until) {
		return false, 0
	}
	return true, int(time.Until(until).Seconds())
}

// RecordFailure increments the fail count and applies a lockout once the
// threshold is crossed.
func (l *Lockout) RecordFailure(ctx context.Context, remoteAddr string) {
	key := lockoutKeyPrefix + remoteAddr
	newCount, err := l.rdb.HIncrBy(ctx, key, "fail_count", 1).Result()
	if err != nil {
		l.logger.Warn("lockout: redis HIncrBy failed", zap.String("addr", remoteAddr), zap.Error(err))
		return
	}
	l.rdb.Expire(ctx, key, lockoutTTL)

	if newCount >= failThreshold && newCount%failThreshold == 0 {
		dur := lockoutDuration(newCount)
		lockedUntil := time.Now().Add(dur).Unix()
		l.rdb.HSet(ctx, key, "locked_until", strconv.FormatInt(lockedUntil, 10))
	}
}

// RecordSuccess clears the fail count for a remote address.
func (l *Lockout) RecordSuccess(ctx context.Context, remoteAddr string) {
	l.rdb.Del(ctx, lockoutKeyPrefix+remoteAddr)
}
