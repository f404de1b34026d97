// Package idempotency dedupes Pub/Sub redeliveries per consumer.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// MarkStore is the subset of the redis client the manager needs.
type MarkStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager marks event ids as handled per consumer for ttl.
type Manager struct {
	store MarkStore
	ttl   time.Duration
}

func NewManager(store MarkStore, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Once runs fn the first time consumer sees eventID. A failing fn clears the
// mark so a redelivery retries it. ran is false for duplicates.
func (m *Manager) Once(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (ran bool, err error) {
	switch {
	case consumer == "":
		return false, errors.New("consumer name is required")
	case eventID == uuid.Nil:
		return false, errors.New("event id is required")
	}
	key := m.store.IdempotencyKey("evt:processed:"+consumer, eventID.String())

	claimed, err := m.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil || !claimed {
		return false, err
	}
	if err := fn(ctx); err != nil {
		return true, multierr.Append(err, m.store.Del(context.WithoutCancel(ctx), key))
	}
	return true, nil
}
