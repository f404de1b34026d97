package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-pools/internal/repo"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

// Repository is append-only: ledger rows are never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	Exists(ctx context.Context, kind enums.SettlementKind, referenceID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
}

type gormRepository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{Base: repo.NewBase(db)}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return NewRepository(tx)
}

func (r *gormRepository) Create(ctx context.Context, event *models.LedgerEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.DB(ctx).Create(event).Error
}

func (r *gormRepository) Exists(ctx context.Context, kind enums.SettlementKind, referenceID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	var n int64
	err := r.DB(ctx).Model(&models.LedgerEvent{}).
		Where("reference_kind = ? AND reference_id = ? AND type = ?", kind, referenceID, eventType).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}
