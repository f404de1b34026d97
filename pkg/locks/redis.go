package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

const (
	defaultRedisTTL   = 30 * time.Second
	defaultRetryDelay = 25 * time.Millisecond
	releaseTimeout    = 2 * time.Second
)

// redisStore is the subset of pkg/redis.Client the lock needs.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error)
	LockKey(scope, id string) string
}

// Redis serializes aggregates across instances using SETNX with an owner token and TTL.
type Redis struct {
	client     redisStore
	logg       *logger.Logger
	ttl        time.Duration
	wait       time.Duration
	retryDelay time.Duration
}

func NewRedis(client redisStore, logg *logger.Logger, wait, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client required for locks")
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &Redis{
		client:     client,
		logg:       logg,
		ttl:        ttl,
		wait:       wait,
		retryDelay: defaultRetryDelay,
	}, nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	redisKey := r.client.LockKey("aggregate", key)
	owner := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, redisKey, owner, r.ttl)
		if err != nil {
			return nil, fmt.Errorf("setnx %s: %w", redisKey, err)
		}
		if ok {
			return r.releaser(redisKey, owner), nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrBusy(key)
		}
		timer := time.NewTimer(r.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Redis) releaser(redisKey, owner string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := r.release(ctx, redisKey, owner); err != nil && r.logg != nil {
			r.logg.Error(r.logg.WithField(ctx, "lock_key", redisKey), "failed to release aggregate lock", err)
		}
	}
}

// release is a no-op once the TTL has handed the key to someone else.
func (r *Redis) release(ctx context.Context, redisKey, owner string) error {
	if _, err := r.client.ReleaseIfOwner(ctx, redisKey, owner); err != nil {
		return fmt.Errorf("release %s: %w", redisKey, err)
	}
	return nil
}
