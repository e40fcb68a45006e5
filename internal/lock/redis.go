package lock

import (
	"context"
	"fmt"
	"time"

	"gold_tally/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker using SET NX PX with a random token per holder
type Redis struct {
	rdb   *redis.Client
	ttl   time.Duration // Lease; a crashed holder frees the key after this
	retry time.Duration // Poll interval while waiting
}

// NewRedis returns a redis-backed locker with the given lease
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{rdb: rdb, ttl: ttl, retry: 25 * time.Millisecond}
}

// Acquire implements Locker
func (r *Redis) Acquire(ctx context.Context, key string, wait time.Duration) (Release, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return once(func() {
				// Release must run even if the caller's context is already done
				if err := releaseScript.Run(context.Background(), r.rdb, []string{key}, token).Err(); err != nil {
					logrus.WithFields(logrus.Fields{"key": key, "error": err}).Warn("lock release failed")
				}
			}), nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, key)
		}
		select {
		case <-time.After(r.retry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
