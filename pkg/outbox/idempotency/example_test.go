package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// memoryStore keeps marks in a map and ignores the TTL.
type memoryStore map[string]bool

func (m memoryStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if m[key] {
		return false, nil
	}
	m[key] = true
	return true, nil
}

func (m memoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (m memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m, key)
	}
	return nil
}

func ExampleManager_Once() {
	ctx := context.Background()
	manager, _ := NewManager(memoryStore{}, 24*time.Hour)
	confirmed := uuid.MustParse("0d6c4f3e-9b7a-4c51-8f0e-2a1b3c4d5e6f")

	attempts := 0
	notify := func(context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("mail relay unavailable")
		}
		fmt.Println("notified participants")
		return nil
	}

	for i := 0; i < 3; i++ {
		ran, err := manager.Once(ctx, "pool-outcome-notifications", confirmed, notify)
		fmt.Println(ran, err != nil)
	}
	// Output:
	// true true
	// notified participants
	// true false
	// false false
}
