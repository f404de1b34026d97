package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

// LedgerEvent records an immutable settlement total handed to the general ledger.
type LedgerEvent struct {
	ID                  uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	ReferenceKind       enums.SettlementKind  `gorm:"column:reference_kind;type:settlement_kind;not null"`
	ReferenceID         uuid.UUID             `gorm:"column:reference_id;type:uuid;not null"`
	Type                enums.LedgerEventType `gorm:"column:type;type:ledger_event_type_enum;not null"`
	TotalDueCents       int64                 `gorm:"column:total_due_cents;not null"`
	TotalCollectedCents int64                 `gorm:"column:total_collected_cents;not null"`
	Metadata            json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt           time.Time             `gorm:"column:created_at;autoCreateTime"`
}
