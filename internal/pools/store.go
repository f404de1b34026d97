package pools

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/pagination"
)

// Store persists pools with their participants. SavePool is compare-and-swap on
// Version: it fails with a conflict when the stored version differs and bumps
// Version on success.
type Store interface {
	CreatePool(ctx context.Context, pool *models.Pool) error
	GetPool(ctx context.Context, id uuid.UUID) (*models.Pool, error)
	SavePool(ctx context.Context, pool *models.Pool) error
	ListPools(ctx context.Context, query listQuery) ([]models.Pool, *pagination.Cursor, error)
	ListDueForEvaluation(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type listQuery struct {
	Status     *enums.PoolStatus
	SupplierID *uuid.UUID
	ShopID     *uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
}
