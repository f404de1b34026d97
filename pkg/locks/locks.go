package locks

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
)

// Locker serializes mutations per aggregate key. Release must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// ErrBusy builds the error returned when a key could not be acquired in time.
func ErrBusy(key string) error {
	return pkgerrors.Rejection(pkgerrors.CodeAggregateBusy, pkgerrors.ReasonConflict, "aggregate is busy, retry").
		WithDetails(map[string]any{"key": key})
}

func PoolKey(id uuid.UUID) string {
	return "pool:" + id.String()
}

func RunKey(id uuid.UUID) string {
	return "run:" + id.String()
}

// SettlementKey guards every record of one pool or run reference.
func SettlementKey(kind string, referenceID uuid.UUID) string {
	return fmt.Sprintf("settlement:%s:%s", kind, referenceID)
}
