package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

// SharedRun is one vehicle trip consolidating deliveries for several shops.
type SharedRun struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Zone           string          `gorm:"column:zone;not null" json:"zone"`
	Status         enums.RunStatus `gorm:"column:status;type:shared_run_status;not null;default:'scheduled'" json:"status"`
	CapacityWeight decimal.Decimal `gorm:"column:capacity_weight;type:numeric(18,4);not null" json:"capacity_weight"`
	CapacityVolume decimal.Decimal `gorm:"column:capacity_volume;type:numeric(18,4);not null" json:"capacity_volume"`
	UsedWeight     decimal.Decimal `gorm:"column:used_weight;type:numeric(18,4);not null;default:0" json:"used_weight"`
	UsedVolume     decimal.Decimal `gorm:"column:used_volume;type:numeric(18,4);not null;default:0" json:"used_volume"`
	ScheduledDate  time.Time       `gorm:"column:scheduled_date;not null" json:"scheduled_date"`
	DriverID       *uuid.UUID      `gorm:"column:driver_id;type:uuid" json:"driver_id"`
	FixedCostCents int64           `gorm:"column:fixed_cost_cents;not null" json:"fixed_cost_cents"`
	SplitMode      enums.SplitMode `gorm:"column:split_mode;type:run_split_mode;not null;default:'weight'" json:"split_mode"`
	CancelReason   *string         `gorm:"column:cancel_reason" json:"cancel_reason"`
	StartedAt      *time.Time      `gorm:"column:started_at" json:"started_at"`
	CompletedAt    *time.Time      `gorm:"column:completed_at" json:"completed_at"`
	CancelledAt    *time.Time      `gorm:"column:cancelled_at" json:"cancelled_at"`
	Version        int64           `gorm:"column:version;not null;default:1" json:"version"`
	Stops          []DeliveryStop  `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"stops"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// Clone returns a deep copy of the run and its stops.
func (r *SharedRun) Clone() *SharedRun {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Stops = make([]DeliveryStop, len(r.Stops))
	for i, stop := range r.Stops {
		cp.Stops[i] = stop.Clone()
	}
	if r.DriverID != nil {
		id := *r.DriverID
		cp.DriverID = &id
	}
	cp.CancelReason = cloneString(r.CancelReason)
	cp.StartedAt = cloneTime(r.StartedAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	cp.CancelledAt = cloneTime(r.CancelledAt)
	return &cp
}

// DeliveryStop is one shop's drop within a run.
type DeliveryStop struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RunID           uuid.UUID        `gorm:"column:run_id;type:uuid;not null" json:"run_id"`
	PoolID          *uuid.UUID       `gorm:"column:pool_id;type:uuid" json:"pool_id"`
	ShopID          uuid.UUID        `gorm:"column:shop_id;type:uuid;not null" json:"shop_id"`
	Sequence        int              `gorm:"column:sequence;not null" json:"sequence"`
	Weight          decimal.Decimal  `gorm:"column:weight;type:numeric(18,4);not null" json:"weight"`
	Volume          decimal.Decimal  `gorm:"column:volume;type:numeric(18,4);not null" json:"volume"`
	CostShareCents  int64            `gorm:"column:cost_share_cents;not null;default:0" json:"cost_share_cents"`
	Status          enums.StopStatus `gorm:"column:status;type:delivery_stop_status;not null;default:'pending'" json:"status"`
	ProofOfDelivery *string          `gorm:"column:proof_of_delivery" json:"proof_of_delivery"`
	DeliveredAt     *time.Time       `gorm:"column:delivered_at" json:"delivered_at"`
	FailedAt        *time.Time       `gorm:"column:failed_at" json:"failed_at"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (s DeliveryStop) Clone() DeliveryStop {
	cp := s
	if s.PoolID != nil {
		id := *s.PoolID
		cp.PoolID = &id
	}
	cp.ProofOfDelivery = cloneString(s.ProofOfDelivery)
	cp.DeliveredAt = cloneTime(s.DeliveredAt)
	cp.FailedAt = cloneTime(s.FailedAt)
	return cp
}
