package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

// PoolLifecycleEvent is emitted on every pool status change.
type PoolLifecycleEvent struct {
	PoolID            uuid.UUID        `json:"pool_id"`
	SupplierID        uuid.UUID        `json:"supplier_id"`
	Status            enums.PoolStatus `json:"status"`
	CurrentCommitment string           `json:"current_commitment"`
	TargetQuantity    string           `json:"target_quantity"`
	Participants      int              `json:"participants"`
	Reason            string           `json:"reason,omitempty"`
	OccurredAt        time.Time        `json:"occurred_at"`
}

// PoolMembershipEvent is emitted when a shop joins or leaves.
type PoolMembershipEvent struct {
	PoolID            uuid.UUID `json:"pool_id"`
	ShopID            uuid.UUID `json:"shop_id"`
	Quantity          string    `json:"quantity"`
	CurrentCommitment string    `json:"current_commitment"`
}

// ParticipantShare is one line of a confirmed pool's allocation.
type ParticipantShare struct {
	ShopID         uuid.UUID `json:"shop_id"`
	Quantity       string    `json:"quantity"`
	CostShareCents int64     `json:"cost_share_cents"`
	SavingsCents   int64     `json:"savings_cents"`
}

// PoolConfirmedEvent carries the final allocation.
type PoolConfirmedEvent struct {
	PoolID             uuid.UUID          `json:"pool_id"`
	SupplierID         uuid.UUID          `json:"supplier_id"`
	UnitPriceCents     int64              `json:"unit_price_cents"`
	TotalGoodsCents    int64              `json:"total_goods_cents"`
	TotalShippingCents int64              `json:"total_shipping_cents"`
	Shares             []ParticipantShare `json:"shares"`
	ConfirmedAt        time.Time          `json:"confirmed_at"`
}

// RunLifecycleEvent is emitted on run status changes and stop membership changes.
type RunLifecycleEvent struct {
	RunID      uuid.UUID       `json:"run_id"`
	Zone       string          `json:"zone"`
	Status     enums.RunStatus `json:"status"`
	StopCount  int             `json:"stop_count"`
	UsedWeight string          `json:"used_weight"`
	StopID     *uuid.UUID      `json:"stop_id,omitempty"`
	ShopID     *uuid.UUID      `json:"shop_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// StopOutcomeEvent is emitted when a driver records a delivery result.
type StopOutcomeEvent struct {
	RunID      uuid.UUID        `json:"run_id"`
	StopID     uuid.UUID        `json:"stop_id"`
	ShopID     uuid.UUID        `json:"shop_id"`
	Status     enums.StopStatus `json:"status"`
	Proof      string           `json:"proof,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// SettlementSettledEvent is emitted once every record of a reference is paid in full.
type SettlementSettledEvent struct {
	ReferenceKind       enums.SettlementKind `json:"reference_kind"`
	ReferenceID         uuid.UUID            `json:"reference_id"`
	TotalDueCents       int64                `json:"total_due_cents"`
	TotalCollectedCents int64                `json:"total_collected_cents"`
	SettledAt           time.Time            `json:"settled_at"`
}

// SettlementDuesFailedEvent records dues that could not be written after a pool
// confirmed or a run started. Replaying Dues through RecordDues repairs the reference.
type SettlementDuesFailedEvent struct {
	ReferenceKind enums.SettlementKind `json:"reference_kind"`
	ReferenceID   uuid.UUID            `json:"reference_id"`
	Dues          []DueLine            `json:"dues"`
	Error         string               `json:"error"`
	FailedAt      time.Time            `json:"failed_at"`
}

type DueLine struct {
	ShopID      uuid.UUID `json:"shop_id"`
	AmountCents int64     `json:"amount_cents"`
}

// NotificationRequestedEvent asks the notification service to contact shops about a pool.
type NotificationRequestedEvent struct {
	PoolID   uuid.UUID `json:"pool_id"`
	Type     string    `json:"type"`
	Contacts []string  `json:"contacts"`
}
