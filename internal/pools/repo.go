package pools

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-pools/internal/repo"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/pagination"
)

type repository struct {
	repo.Base
}

// NewRepository returns a gorm-backed pool store.
func NewRepository(db *gorm.DB) Store {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) CreatePool(ctx context.Context, pool *models.Pool) error {
	if pool.ID == uuid.Nil {
		pool.ID = uuid.New()
	}
	if pool.Version == 0 {
		pool.Version = 1
	}
	for i := range pool.Participants {
		if pool.Participants[i].ID == uuid.Nil {
			pool.Participants[i].ID = uuid.New()
		}
		pool.Participants[i].PoolID = pool.ID
	}
	return r.DB(ctx).Create(pool).Error
}

func (r *repository) GetPool(ctx context.Context, id uuid.UUID) (*models.Pool, error) {
	var pool models.Pool
	err := r.DB(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC").Order("id ASC")
		}).
		First(&pool, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errPoolNotFound(id)
		}
		return nil, err
	}
	return &pool, nil
}

func (r *repository) SavePool(ctx context.Context, pool *models.Pool) error {
	err := r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		err := repo.SwapVersion(tx, &models.Pool{}, "pool", pool.ID, pool.Version, map[string]any{
			"current_commitment": pool.CurrentCommitment,
			"status":             pool.Status,
			"run_refs":           pool.RunRefs,
			"cancel_reason":      pool.CancelReason,
			"confirmed_at":       pool.ConfirmedAt,
			"cancelled_at":       pool.CancelledAt,
			"completed_at":       pool.CompletedAt,
		})
		if err != nil {
			return err
		}
		for i := range pool.Participants {
			participant := &pool.Participants[i]
			participant.PoolID = pool.ID
			if err := tx.Save(participant).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	pool.Version++
	return nil
}

func (r *repository) ListPools(ctx context.Context, query listQuery) ([]models.Pool, *pagination.Cursor, error) {
	q := r.DB(ctx).Model(&models.Pool{})
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if query.SupplierID != nil {
		q = q.Where("supplier_id = ?", *query.SupplierID)
	}
	if query.ShopID != nil {
		q = q.Where("id IN (?)", r.DB(ctx).Model(&models.PoolParticipant{}).
			Select("pool_id").
			Where("shop_id = ? AND withdrawn_at IS NULL", *query.ShopID))
	}
	if query.Cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", query.Cursor.CreatedAt, query.Cursor.ID)
	}

	var rows []models.Pool
	if err := q.
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC")
		}).
		Order("created_at DESC, id DESC").
		Limit(pagination.Probe(query.Limit)).
		Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, query.Limit, func(p models.Pool) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return rows, next, nil
}

func (r *repository) ListDueForEvaluation(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.DB(ctx).Model(&models.Pool{}).
		Where("status = ? AND deadline <= ?", enums.PoolStatusOpen, now).
		Order("deadline ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
