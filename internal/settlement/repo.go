package settlement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-pools/internal/repo"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
)

type repository struct {
	repo.Base
}

// NewRepository returns a gorm-backed settlement store.
func NewRepository(db *gorm.DB) Store {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) Find(ctx context.Context, ref Reference, shopID uuid.UUID) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	err := r.DB(ctx).
		Where("reference_kind = ? AND reference_id = ? AND shop_id = ?", ref.Kind, ref.ID, shopID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errSettlementNotFound(ref, shopID)
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListByReference(ctx context.Context, ref Reference) ([]models.SettlementRecord, error) {
	var records []models.SettlementRecord
	if err := r.DB(ctx).
		Where("reference_kind = ? AND reference_id = ?", ref.Kind, ref.ID).
		Order("created_at ASC").
		Order("shop_id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) Create(ctx context.Context, record *models.SettlementRecord) error {
	prepareRecord(record)
	return r.DB(ctx).Create(record).Error
}

func (r *repository) Save(ctx context.Context, record *models.SettlementRecord) error {
	if err := swapRecord(r.DB(ctx), record); err != nil {
		return err
	}
	record.Version++
	return nil
}

func (r *repository) SaveBatch(ctx context.Context, creates, updates []*models.SettlementRecord) error {
	err := r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		for _, record := range creates {
			prepareRecord(record)
			if err := tx.Create(record).Error; err != nil {
				return err
			}
		}
		for _, record := range updates {
			if err := swapRecord(tx, record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, record := range updates {
		record.Version++
	}
	return nil
}

func prepareRecord(record *models.SettlementRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Version == 0 {
		record.Version = 1
	}
}

func swapRecord(tx *gorm.DB, record *models.SettlementRecord) error {
	return repo.SwapVersion(tx, &models.SettlementRecord{}, "settlement record", record.ID, record.Version, map[string]any{
		"amount_due_cents":  record.AmountDueCents,
		"amount_paid_cents": record.AmountPaidCents,
		"settled_at":        record.SettledAt,
	})
}
