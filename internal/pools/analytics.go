package pools

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/internal/allocation"
	"github.com/angelmondragon/packfinderz-pools/internal/settlement"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
)

// SavingsPreview prices a hypothetical commitment for one shop. It reads an
// unlocked snapshot, so a concurrent join may change the outcome.
type SavingsPreview struct {
	PoolID     uuid.UUID              `json:"pool_id"`
	ShopID     uuid.UUID              `json:"shop_id"`
	Quantity   decimal.Decimal        `json:"quantity"`
	Commitment decimal.Decimal        `json:"commitment"`
	Tier       allocation.TierPreview `json:"tier"`
	Estimate   allocation.Share       `json:"estimate"`
	// Indicative is true when no tier is reached yet and the lowest tier was used.
	Indicative bool `json:"indicative"`
}

func (m *Manager) SavingsPreview(ctx context.Context, poolID, shopID uuid.UUID, quantity decimal.Decimal) (*SavingsPreview, error) {
	if !quantity.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}
	pool, err := m.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	commitment := pool.CurrentCommitment
	for _, participant := range pool.ActiveParticipants() {
		if participant.ShopID == shopID {
			commitment = commitment.Sub(participant.CommittedQuantity)
		}
	}
	commitment = commitment.Add(quantity)

	estimate, reached, err := allocation.EstimateShare(pool.PriceSchedule, quantity, commitment)
	if err != nil {
		return nil, err
	}
	estimate.ShopID = shopID
	tier, err := allocation.Preview(pool.PriceSchedule, commitment)
	if err != nil {
		return nil, err
	}
	return &SavingsPreview{
		PoolID:     pool.ID,
		ShopID:     shopID,
		Quantity:   quantity,
		Commitment: commitment,
		Tier:       tier,
		Estimate:   estimate,
		Indicative: !reached,
	}, nil
}

// Analytics summarises a pool's progress and, once confirmed, its collection status.
type Analytics struct {
	PoolID                uuid.UUID              `json:"pool_id"`
	Status                enums.PoolStatus       `json:"status"`
	TargetQuantity        decimal.Decimal        `json:"target_quantity"`
	CurrentCommitment     decimal.Decimal        `json:"current_commitment"`
	Threshold             decimal.Decimal        `json:"threshold"`
	FillRatio             decimal.Decimal        `json:"fill_ratio"`
	RemainingCapacity     decimal.Decimal        `json:"remaining_capacity"`
	ActiveParticipants    int                    `json:"active_participants"`
	WithdrawnParticipants int                    `json:"withdrawn_participants"`
	OpenSlots             int                    `json:"open_slots"`
	SecondsToDeadline     int64                  `json:"seconds_to_deadline"`
	Tier                  allocation.TierPreview `json:"tier"`
	TotalSavingsCents     int64                  `json:"total_savings_cents"`
	PaidParticipants      int                    `json:"paid_participants"`
	Settlement            *settlement.Snapshot   `json:"settlement,omitempty"`
}

func (m *Manager) Analytics(ctx context.Context, poolID uuid.UUID) (*Analytics, error) {
	pool, err := m.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	tier, err := allocation.Preview(pool.PriceSchedule, pool.CurrentCommitment)
	if err != nil {
		return nil, err
	}
	ledger := LedgerFor(pool)
	active := ledger.ActiveCount()
	out := &Analytics{
		PoolID:                pool.ID,
		Status:                pool.Status,
		TargetQuantity:        pool.TargetQuantity,
		CurrentCommitment:     pool.CurrentCommitment,
		Threshold:             m.threshold(pool),
		FillRatio:             pool.CurrentCommitment.Div(pool.TargetQuantity).Round(4),
		RemainingCapacity:     decimal.Max(pool.TargetQuantity.Sub(pool.CurrentCommitment), decimal.Zero),
		ActiveParticipants:    active,
		WithdrawnParticipants: len(pool.Participants) - active,
		OpenSlots:             max(pool.MaxParticipants-active, 0),
		Tier:                  tier,
	}
	if remaining := pool.Deadline.Sub(m.now()); remaining > 0 {
		out.SecondsToDeadline = int64(remaining / time.Second)
	}

	confirmed := pool.ConfirmedAt != nil
	for _, participant := range ledger.Active() {
		if participant.IsPaid {
			out.PaidParticipants++
		}
		if confirmed {
			out.TotalSavingsCents += participant.SavingsCents
			continue
		}
		estimate, ok, err := allocation.EstimateShare(pool.PriceSchedule, participant.CommittedQuantity, pool.CurrentCommitment)
		if err != nil {
			return nil, err
		}
		if ok {
			out.TotalSavingsCents += estimate.SavingsCents
		}
	}

	if confirmed && m.settlement != nil {
		snapshot, err := m.settlement.Snapshot(ctx, settlement.PoolRef(pool.ID))
		if err != nil {
			return nil, err
		}
		out.Settlement = snapshot
	}
	return out, nil
}
