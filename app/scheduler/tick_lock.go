package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TickLock keeps replicas from scanning for due work at the same time. Atomic row claims are
// what prevents double delivery; the lock only cuts down on wasted contention.
type TickLock interface {
	// Acquire returns a release function when the lock was taken, or ok=false when another holder has it
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

type noopTickLock struct{}

// NewNoopTickLock returns a lock that is always granted
func NewNoopTickLock() TickLock {
	return noopTickLock{}
}

func (noopTickLock) Acquire(ctx context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisTickLock struct {
	rc  *redis.Client
	key string
	ttl time.Duration
}

// NewRedisTickLock returns a SET NX PX based lock stored under <prefix>scheduler:tick
func NewRedisTickLock(rc *redis.Client, prefix string, ttl time.Duration) TickLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &redisTickLock{
		rc:  rc,
		key: prefix + "scheduler:tick",
		ttl: ttl,
	}
}

func (l *redisTickLock) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rc.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire tick lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// the tick context may already be cancelled at this point
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rc, []string{l.key}, token).Err()
	}
	return release, true, nil
}
