package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/types"
)

// Pool aggregates shop commitments toward a supplier's bulk-discount tier.
type Pool struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	LeadShopID        uuid.UUID           `gorm:"column:lead_shop_id;type:uuid;not null" json:"lead_shop_id"`
	SupplierID        uuid.UUID           `gorm:"column:supplier_id;type:uuid;not null" json:"supplier_id"`
	Title             string              `gorm:"column:title;not null" json:"title"`
	TargetQuantity    decimal.Decimal     `gorm:"column:target_quantity;type:numeric(18,4);not null" json:"target_quantity"`
	CurrentCommitment decimal.Decimal     `gorm:"column:current_commitment;type:numeric(18,4);not null;default:0" json:"current_commitment"`
	MinParticipants   int                 `gorm:"column:min_participants;not null" json:"min_participants"`
	MaxParticipants   int                 `gorm:"column:max_participants;not null" json:"max_participants"`
	PriceSchedule     types.PriceSchedule `gorm:"column:price_schedule;type:jsonb;serializer:json;not null" json:"price_schedule"`
	Deadline          time.Time           `gorm:"column:deadline;not null" json:"deadline"`
	Status            enums.PoolStatus    `gorm:"column:status;type:pool_status;not null;default:'open'" json:"status"`
	RunRefs           int                 `gorm:"column:run_refs;not null;default:0" json:"run_refs"`
	CancelReason      *string             `gorm:"column:cancel_reason" json:"cancel_reason"`
	ConfirmedAt       *time.Time          `gorm:"column:confirmed_at" json:"confirmed_at"`
	CancelledAt       *time.Time          `gorm:"column:cancelled_at" json:"cancelled_at"`
	CompletedAt       *time.Time          `gorm:"column:completed_at" json:"completed_at"`
	Version           int64               `gorm:"column:version;not null;default:1" json:"version"`
	Participants      []PoolParticipant   `gorm:"foreignKey:PoolID;constraint:OnDelete:CASCADE" json:"participants"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// ActiveParticipants returns the participants that have not withdrawn, in join order.
func (p *Pool) ActiveParticipants() []PoolParticipant {
	active := make([]PoolParticipant, 0, len(p.Participants))
	for _, participant := range p.Participants {
		if participant.IsActive() {
			active = append(active, participant)
		}
	}
	return active
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	cp := *p
	cp.PriceSchedule.Tiers = append([]types.PriceTier(nil), p.PriceSchedule.Tiers...)
	cp.Participants = append([]PoolParticipant(nil), p.Participants...)
	cp.CancelReason = cloneString(p.CancelReason)
	cp.ConfirmedAt = cloneTime(p.ConfirmedAt)
	cp.CancelledAt = cloneTime(p.CancelledAt)
	cp.CompletedAt = cloneTime(p.CompletedAt)
	for i := range cp.Participants {
		cp.Participants[i].WithdrawnAt = cloneTime(p.Participants[i].WithdrawnAt)
		cp.Participants[i].PaidAt = cloneTime(p.Participants[i].PaidAt)
	}
	return &cp
}

// PoolParticipant is one shop's stake in a pool.
type PoolParticipant struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PoolID            uuid.UUID       `gorm:"column:pool_id;type:uuid;not null" json:"pool_id"`
	ShopID            uuid.UUID       `gorm:"column:shop_id;type:uuid;not null" json:"shop_id"`
	CommittedQuantity decimal.Decimal `gorm:"column:committed_quantity;type:numeric(18,4);not null" json:"committed_quantity"`
	JoinedAt          time.Time       `gorm:"column:joined_at;not null" json:"joined_at"`
	WithdrawnAt       *time.Time      `gorm:"column:withdrawn_at" json:"withdrawn_at"`
	GoodsCents        int64           `gorm:"column:goods_cents;not null;default:0" json:"goods_cents"`
	ShippingCents     int64           `gorm:"column:shipping_cents;not null;default:0" json:"shipping_cents"`
	CostShareCents    int64           `gorm:"column:cost_share_cents;not null;default:0" json:"cost_share_cents"`
	SavingsCents      int64           `gorm:"column:savings_cents;not null;default:0" json:"savings_cents"`
	IsPaid            bool            `gorm:"column:is_paid;not null;default:false" json:"is_paid"`
	PaidAt            *time.Time      `gorm:"column:paid_at" json:"paid_at"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (p PoolParticipant) IsActive() bool {
	return p.WithdrawnAt == nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
