package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

// SettlementRecord tracks what one shop owes and has paid against a pool or run.
type SettlementRecord struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ReferenceKind   enums.SettlementKind `gorm:"column:reference_kind;type:settlement_kind;not null" json:"reference_kind"`
	ReferenceID     uuid.UUID            `gorm:"column:reference_id;type:uuid;not null" json:"reference_id"`
	ShopID          uuid.UUID            `gorm:"column:shop_id;type:uuid;not null" json:"shop_id"`
	AmountDueCents  int64                `gorm:"column:amount_due_cents;not null" json:"amount_due_cents"`
	AmountPaidCents int64                `gorm:"column:amount_paid_cents;not null;default:0" json:"amount_paid_cents"`
	SettledAt       *time.Time           `gorm:"column:settled_at" json:"settled_at"`
	Version         int64                `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (r SettlementRecord) OutstandingCents() int64 {
	return r.AmountDueCents - r.AmountPaidCents
}
