package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/registry"
)

const poolOutcomeConsumer = "pool-outcome-notifications"

// PoolReader loads a pool with its participants.
type PoolReader interface {
	Get(ctx context.Context, poolID uuid.UUID) (*models.Pool, error)
}

type processedGuard interface {
	Once(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

// Consumer watches pool events and asks the notification service to tell
// participants when their pool is confirmed or cancelled.
type Consumer struct {
	pools        PoolReader
	sender       *Sender
	subscription *pubsub.Subscriber
	processed    processedGuard
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

func NewConsumer(pools PoolReader, sender *Sender, subscription *pubsub.Subscriber, processed processedGuard, logg *logger.Logger) (*Consumer, error) {
	if pools == nil {
		return nil, fmt.Errorf("pool reader required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender required")
	}
	if processed == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.EventPoolConfirmed, 1, registry.JSONDecoder[payloads.PoolConfirmedEvent]())
	decoders.Register(enums.EventPoolCancelled, 1, registry.JSONDecoder[payloads.PoolLifecycleEvent]())
	return &Consumer{
		pools:        pools,
		sender:       sender,
		subscription: subscription,
		processed:    processed,
		decoders:     decoders,
		logg:         logg,
	}, nil
}

// Run receives until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("pool events subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether the message should be acked.
func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) bool {
	eventType := enums.OutboxEventType(attrs["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	if eventType != enums.EventPoolConfirmed && eventType != enums.EventPoolCancelled {
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "notifications.decode_envelope_failed", err)
		return true
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "notifications.invalid_event_id", err)
		return true
	}
	payload, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "notifications.decode_payload_failed", err)
		return true
	}

	ran, err := c.processed.Once(ctx, poolOutcomeConsumer, eventID, func(ctx context.Context) error {
		return c.handle(ctx, payload)
	})
	if err != nil {
		c.logg.Error(logCtx, "notifications.handle_failed", err)
		return false
	}
	if !ran {
		c.logg.Info(logCtx, "notifications.already_processed")
	}
	return true
}

func (c *Consumer) handle(ctx context.Context, payload any) error {
	switch event := payload.(type) {
	case *payloads.PoolConfirmedEvent:
		contacts := make([]string, 0, len(event.Shares))
		for _, share := range event.Shares {
			contacts = append(contacts, shopContact(share.ShopID))
		}
		if len(contacts) == 0 {
			return nil
		}
		return c.sender.request(ctx, event.PoolID, TypePoolConfirmed, contacts)
	case *payloads.PoolLifecycleEvent:
		pool, err := c.pools.Get(ctx, event.PoolID)
		if err != nil {
			return err
		}
		contacts := cancelledContacts(pool)
		if len(contacts) == 0 {
			return nil
		}
		return c.sender.request(ctx, event.PoolID, TypePoolCancelled, contacts)
	default:
		return fmt.Errorf("unexpected payload %T", payload)
	}
}

// cancelledContacts lists the shops that were still committed when the pool was cancelled.
func cancelledContacts(pool *models.Pool) []string {
	if pool.CancelledAt == nil {
		return nil
	}
	contacts := []string{}
	for _, participant := range pool.Participants {
		if participant.WithdrawnAt != nil && participant.WithdrawnAt.Equal(*pool.CancelledAt) {
			contacts = append(contacts, shopContact(participant.ShopID))
		}
	}
	return contacts
}
