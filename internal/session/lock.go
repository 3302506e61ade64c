package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionBusy indicates another connection already holds the session.
var ErrSessionBusy = errors.New("session: already has an active connection")

const activeLockKeyPrefix = "voice:active:"

// ActiveLock enforces the one-connection-per-session rule across instances
// using Redis. The lock carries a TTL so a crashed instance cannot strand a
// session forever.
type ActiveLock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewActiveLock creates a lock manager backed by Redis.
func NewActiveLock(rdb *redis.Client, ttl time.Duration) *ActiveLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &ActiveLock{rdb: rdb, ttl: ttl}
}

func activeLockKey(sessionID string) string {
	return activeLockKeyPrefix + sessionID
}

// Acquire claims the session for the given connection id. Returns
// ErrSessionBusy if a different connection holds it.
func (l *ActiveLock) Acquire(ctx context.Context, sessionID, connID string) error {
	ok, err := l.rdb.SetNX(ctx, activeLockKey(sessionID), connID, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("session: acquire lock: %w", err)
	}
	if !ok {
		return ErrSessionBusy
	}
	return nil
}

// Refresh extends the lock TTL while the connection is alive. Only the
// holder may refresh.
func (l *ActiveLock) Refresh(ctx context.Context, sessionID, connID string) error {
	holder, err := l.rdb.Get(ctx, activeLockKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrSessionBusy
		}
		return fmt.Errorf("session: refresh lock: %w", err)
	}
	if holder != connID {
		return ErrSessionBusy
	}
	return l.rdb.Expire(ctx, activeLockKey(sessionID), l.ttl).Err()
}

// Release frees the session if the given connection holds it. Releasing a
// lock held by someone else is a no-op.
func (l *ActiveLock) Release(ctx context.Context, sessionID, connID string) error {
	holder, err := l.rdb.Get(ctx, activeLockKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("session: release lock: %w", err)
	}
	if holder != connID {
		return nil
	}
	return l.rdb.Del(ctx, activeLockKey(sessionID)).Err()
}
