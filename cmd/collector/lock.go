package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// sweepLock keeps concurrent collector replicas from double-charging
// the same due subscriptions. Only the replica that wins SetNX sweeps;
// the TTL lets the lock expire if the holder dies mid-sweep.
type sweepLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	owner string
}

func newSweepLock(store lockStore, key string, ttl time.Duration) (*sweepLock, error) {
	if store == nil {
		return nil, errors.New("lock store is required")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &sweepLock{store: store, key: key, ttl: ttl}, nil
}

func (l *sweepLock) Acquire(ctx context.Context) (bool, error) {
	l.owner = uuid.NewString()
	return l.store.SetNX(ctx, l.key, l.owner, l.ttl)
}

// Release deletes the lock only when this process still owns it, so a
// replica whose lock expired cannot evict the current holder.
func (l *sweepLock) Release(ctx context.Context) error {
	current, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if current != l.owner {
		return nil
	}
	return l.store.Del(ctx, l.key)
}
