package settlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
)

// Reference identifies the pool or run a group of settlement records belongs to.
type Reference struct {
	Kind enums.SettlementKind `json:"kind"`
	ID   uuid.UUID            `json:"id"`
}

func PoolRef(id uuid.UUID) Reference {
	return Reference{Kind: enums.SettlementKindPool, ID: id}
}

func RunRef(id uuid.UUID) Reference {
	return Reference{Kind: enums.SettlementKindRun, ID: id}
}

func (r Reference) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}

func (r Reference) validate() error {
	if !r.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid settlement reference kind")
	}
	if r.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "settlement reference id is required")
	}
	return nil
}

// Store persists settlement records. Save is compare-and-swap on Version and
// bumps it on success.
type Store interface {
	Find(ctx context.Context, ref Reference, shopID uuid.UUID) (*models.SettlementRecord, error)
	ListByReference(ctx context.Context, ref Reference) ([]models.SettlementRecord, error)
	Create(ctx context.Context, record *models.SettlementRecord) error
	Save(ctx context.Context, record *models.SettlementRecord) error
	// SaveBatch creates and updates records atomically: either every write
	// lands or none does.
	SaveBatch(ctx context.Context, creates, updates []*models.SettlementRecord) error
}

func errSettlementNotFound(ref Reference, shopID uuid.UUID) error {
	return pkgerrors.Rejection(pkgerrors.CodeNotFound, pkgerrors.ReasonSettlementNotFound, "settlement record not found").
		WithDetails(map[string]any{"reference": ref.String(), "shop_id": shopID.String()})
}
