package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/payloads"
)

const (
	TypePoolInvite    = "pool_invite"
	TypePoolConfirmed = "pool_confirmed"
	TypePoolCancelled = "pool_cancelled"

	maxContacts = 100
)

// Sender queues notification requests on the outbox; the publisher worker
// forwards them to the notification topic.
type Sender struct {
	events outbox.Publisher
}

func NewSender(events outbox.Publisher) (*Sender, error) {
	if events == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Sender{events: events}, nil
}

// SendInvites asks the notification service to invite contacts to a pool.
func (s *Sender) SendInvites(ctx context.Context, poolID uuid.UUID, contacts []string) error {
	cleaned := normalizeContacts(contacts)
	if len(cleaned) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one contact is required")
	}
	if len(cleaned) > maxContacts {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d contacts per invite", maxContacts))
	}
	return s.request(ctx, poolID, TypePoolInvite, cleaned)
}

func (s *Sender) request(ctx context.Context, poolID uuid.UUID, kind string, contacts []string) error {
	return s.events.Publish(ctx, outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateNotification,
		AggregateID:   poolID,
		Actor:         outbox.SystemActor("notifications"),
		Data: payloads.NotificationRequestedEvent{
			PoolID:   poolID,
			Type:     kind,
			Contacts: contacts,
		},
	})
}

func normalizeContacts(contacts []string) []string {
	seen := make(map[string]struct{}, len(contacts))
	out := make([]string, 0, len(contacts))
	for _, contact := range contacts {
		trimmed := strings.ToLower(strings.TrimSpace(contact))
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func shopContact(shopID uuid.UUID) string {
	return "shop:" + shopID.String()
}
