package runs

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
)

// Store persists runs with their stops. SaveRun is compare-and-swap on Version,
// replaces the stored stop set with run.Stops and bumps Version on success.
type Store interface {
	CreateRun(ctx context.Context, run *models.SharedRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.SharedRun, error)
	SaveRun(ctx context.Context, run *models.SharedRun) error
	RunIDForStop(ctx context.Context, stopID uuid.UUID) (uuid.UUID, error)
}
