package pools

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/types"
)

func errPoolNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "pool not found").
		WithDetails(map[string]any{"pool_id": id.String()})
}

func errPoolClosed(status enums.PoolStatus) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonPoolClosed, "pool is not accepting changes").
		WithDetails(map[string]any{"status": status})
}

func errPoolLocked(status enums.PoolStatus) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonPoolLocked, "pool is locked").
		WithDetails(map[string]any{"status": status})
}

func errPoolFull(detail string) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonPoolFull, "pool cannot take this commitment").
		WithDetails(map[string]any{"limit": detail})
}

func errDeadlinePassed() error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonDeadlinePassed, "pool deadline has passed")
}

func errDuplicateParticipant(shopID uuid.UUID) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonDuplicateParticipant, "shop already participates in this pool").
		WithDetails(map[string]any{"shop_id": shopID.String()})
}

func errParticipantNotFound(shopID uuid.UUID) error {
	return pkgerrors.Rejection(pkgerrors.CodeNotFound, pkgerrors.ReasonParticipantNotFound, "shop is not an active participant").
		WithDetails(map[string]any{"shop_id": shopID.String()})
}

func errInvalidTransition(from, to enums.PoolStatus) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition, "pool status transition not allowed").
		WithDetails(map[string]any{"from": from, "to": to})
}

func errBelowMinimumTier() error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonBelowMinimumTier, "commitment is below the lowest price tier")
}

func errPoolNotConfirmed(status enums.PoolStatus) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonPoolNotConfirmed, "pool is not confirmed").
		WithDetails(map[string]any{"status": status})
}

func errSettlementOutstanding() error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonSettlementOutstanding, "pool settlement is not complete")
}

func errAmountOutOfRange(field string) error {
	return pkgerrors.Rejection(pkgerrors.CodeValidation, pkgerrors.ReasonAmountOutOfRange, field+" exceeds the supported range").
		WithDetails(map[string]any{"max_quantity": types.MaxQuantity.String(), "max_unit_cents": types.MaxUnitCents})
}
