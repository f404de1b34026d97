package runs

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

// NewRepository returns a gorm-backed run store.
func NewRepository(db *gorm.DB) Store {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) CreateRun(ctx context.Context, run *models.SharedRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Version == 0 {
		run.Version = 1
	}
	return r.DB(ctx).Create(run).Error
}

func (r *repository) GetRun(ctx context.Context, id uuid.UUID) (*models.SharedRun, error) {
	var run models.SharedRun
	err := r.DB(ctx).
		Preload("Stops", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errRunNotFound(id)
		}
		return nil, err
	}
	return &run, nil
}

func (r *repository) SaveRun(ctx context.Context, run *models.SharedRun) error {
	err := r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		err := repo.SwapVersion(tx, &models.SharedRun{}, "run", run.ID, run.Version, map[string]any{
			"status":        run.Status,
			"used_weight":   run.UsedWeight,
			"used_volume":   run.UsedVolume,
			"driver_id":     run.DriverID,
			"cancel_reason": run.CancelReason,
			"started_at":    run.StartedAt,
			"completed_at":  run.CompletedAt,
			"cancelled_at":  run.CancelledAt,
		})
		if err != nil {
			return err
		}

		keep := make([]uuid.UUID, 0, len(run.Stops))
		for _, stop := range run.Stops {
			keep = append(keep, stop.ID)
		}
		prune := tx.Where("run_id = ?", run.ID)
		if len(keep) > 0 {
			prune = prune.Where("id NOT IN ?", keep)
		}
		if err := prune.Delete(&models.DeliveryStop{}).Error; err != nil {
			return err
		}
		for i := range run.Stops {
			run.Stops[i].RunID = run.ID
			if err := tx.Save(&run.Stops[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	run.Version++
	return nil
}

func (r *repository) RunIDForStop(ctx context.Context, stopID uuid.UUID) (uuid.UUID, error) {
	var stop models.DeliveryStop
	err := r.DB(ctx).Select("run_id").First(&stop, "id = ?", stopID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, errStopNotFound(stopID)
		}
		return uuid.Nil, err
	}
	return stop.RunID, nil
}
