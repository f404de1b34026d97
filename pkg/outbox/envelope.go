package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event. System jobs leave ShopID empty.
type ActorRef struct {
	ShopID *uuid.UUID `json:"shopId,omitempty"`
	Role   string     `json:"role,omitempty"`
}

// SystemActor tags events produced by background jobs.
func SystemActor(role string) *ActorRef {
	return &ActorRef{Role: role}
}

// ShopActor tags events triggered by a shop.
func ShopActor(shopID uuid.UUID) *ActorRef {
	id := shopID
	return &ActorRef{ShopID: &id, Role: "shop"}
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
