package pools

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/internal/allocation"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/payloads"
)

var lifecycleEventTypes = map[enums.PoolStatus]enums.OutboxEventType{
	enums.PoolStatusPending:   enums.EventPoolPending,
	enums.PoolStatusCancelled: enums.EventPoolCancelled,
	enums.PoolStatusCompleted: enums.EventPoolCompleted,
}

func lifecyclePayload(pool *models.Pool, at time.Time) payloads.PoolLifecycleEvent {
	payload := payloads.PoolLifecycleEvent{
		PoolID:            pool.ID,
		SupplierID:        pool.SupplierID,
		Status:            pool.Status,
		CurrentCommitment: pool.CurrentCommitment.String(),
		TargetQuantity:    pool.TargetQuantity.String(),
		Participants:      LedgerFor(pool).ActiveCount(),
		OccurredAt:        at,
	}
	if pool.CancelReason != nil {
		payload.Reason = *pool.CancelReason
	}
	return payload
}

func poolCreatedEvent(pool *models.Pool, at time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventPoolCreated,
		AggregateType: enums.AggregatePool,
		AggregateID:   pool.ID,
		Actor:         outbox.ShopActor(pool.LeadShopID),
		Data:          lifecyclePayload(pool, at),
		OccurredAt:    at,
	}
}

func lifecycleEvent(pool *models.Pool, at time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     lifecycleEventTypes[pool.Status],
		AggregateType: enums.AggregatePool,
		AggregateID:   pool.ID,
		Actor:         outbox.SystemActor("pool_manager"),
		Data:          lifecyclePayload(pool, at),
		OccurredAt:    at,
	}
}

func membershipEvent(eventType enums.OutboxEventType, pool *models.Pool, shopID uuid.UUID, quantity decimal.Decimal, at time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePool,
		AggregateID:   pool.ID,
		Actor:         outbox.ShopActor(shopID),
		Data: payloads.PoolMembershipEvent{
			PoolID:            pool.ID,
			ShopID:            shopID,
			Quantity:          quantity.String(),
			CurrentCommitment: pool.CurrentCommitment.String(),
		},
		OccurredAt: at,
	}
}

func confirmedEvent(pool *models.Pool, result allocation.Result, at time.Time) outbox.DomainEvent {
	shares := make([]payloads.ParticipantShare, 0, len(result.Shares))
	for _, share := range result.Shares {
		shares = append(shares, payloads.ParticipantShare{
			ShopID:         share.ShopID,
			Quantity:       share.Quantity.String(),
			CostShareCents: share.CostShareCents,
			SavingsCents:   share.SavingsCents,
		})
	}
	return outbox.DomainEvent{
		EventType:     enums.EventPoolConfirmed,
		AggregateType: enums.AggregatePool,
		AggregateID:   pool.ID,
		Actor:         outbox.SystemActor("pool_manager"),
		Data: payloads.PoolConfirmedEvent{
			PoolID:             pool.ID,
			SupplierID:         pool.SupplierID,
			UnitPriceCents:     result.Tier.UnitPriceCents,
			TotalGoodsCents:    result.TotalGoodsCents,
			TotalShippingCents: result.TotalShippingCents,
			Shares:             shares,
			ConfirmedAt:        at,
		},
		OccurredAt: at,
	}
}
