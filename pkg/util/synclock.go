package util

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SyncLock is a per-key advisory lock. It always guards within the process and,
// when a Redis client is set, across processes via SET NX with a TTL.
// Redis failures do not block the caller.
type SyncLock struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	local map[string]struct{}
}

// NewSyncLock creates a lock; rdb may be nil.
func NewSyncLock(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *SyncLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SyncLock{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]struct{}),
	}
}

// Acquire takes the lock for key. ok is false when someone else holds it.
// release must be called exactly once when ok is true.
func (l *SyncLock) Acquire(ctx context.Context, key string) (release func(), ok bool) {
	l.mu.Lock()
	if _, held := l.local[key]; held {
		l.mu.Unlock()
		return nil, false
	}
	l.local[key] = struct{}{}
	l.mu.Unlock()

	releaseLocal := func() {
		l.mu.Lock()
		delete(l.local, key)
		l.mu.Unlock()
	}

	if l.rdb == nil {
		return releaseLocal, true
	}

	redisKey := "synclock:" + key
	token := uuid.NewString()
	acquired, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		l.logger.Warn("Redis lock unavailable, continuing with local lock",
			zap.String("key", key),
			zap.Error(err),
		)
		return releaseLocal, true
	}
	if !acquired {
		releaseLocal()
		l.logger.Info("Lock held elsewhere", zap.String("key", key))
		return nil, false
	}

	return func() {
		if err := releaseScript.Run(context.Background(), l.rdb, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("Failed to release redis lock", zap.String("key", key), zap.Error(err))
		}
		releaseLocal()
	}, true
}
