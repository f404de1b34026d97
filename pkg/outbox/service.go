package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/packfinderz-pools/pkg/db"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

// onceIndex backs EmitIfNotExists when two writers race past ExistsTx.
const onceIndex = "ux_outbox_events_once"

// DomainEvent is what pools, runs and settlement hand to the outbox. Data is
// marshalled into the envelope's data field.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
	// Once drops the event when one of the same type is already queued for
	// the aggregate.
	Once bool
}

// Publisher queues domain events for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Service struct {
	repo *Repository
	db   txRunner
	logg *logger.Logger
}

func NewService(repo *Repository, db txRunner, logg *logger.Logger) *Service {
	return &Service{repo: repo, db: db, logg: logg}
}

// Publish writes every event in one transaction.
func (s *Service) Publish(ctx context.Context, events ...DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	if s.db == nil {
		return errors.New("database required to publish outbox events")
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		for _, event := range events {
			emit := s.Emit
			if event.Once {
				emit = s.EmitIfNotExists
			}
			if err := emit(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

// Emit appends event to outbox_events inside tx. The caller's transaction
// decides whether the event is ever published.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	row, envelope, err := encode(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType, err)
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
		}), "outbox.queued")
	}
	return nil
}

func encode(event DomainEvent) (models.OutboxEvent, PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, PayloadEnvelope{}, err
	}
	envelope := PayloadEnvelope{
		Version:    max(event.Version, 1),
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	if envelope.OccurredAt.IsZero() {
		envelope.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return models.OutboxEvent{}, PayloadEnvelope{}, err
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}, envelope, nil
}

// EmitIfNotExists skips events already queued for the same aggregate, so a
// retried transition does not announce itself twice.
func (s *Service) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	exists, err := s.repo.ExistsTx(tx, event.EventType, event.AggregateType, event.AggregateID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.Emit(ctx, tx, event); err != nil {
		if dbpkg.IsUniqueViolation(err, onceIndex) {
			return nil
		}
		return err
	}
	return nil
}
