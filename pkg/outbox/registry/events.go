package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/payloads"
)

// EventDescriptor says where an event type is published and how its payload
// decodes.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        DecoderFunc
}

// ResolvedEvent is a validated outbox row with its typed payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks rows that will never publish as stored.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// IsNonRetryable reports whether err carries a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

type topicFunc func(config.PubSubConfig) string

func poolTopic(c config.PubSubConfig) string         { return c.PoolEventsTopic }
func runTopic(c config.PubSubConfig) string          { return c.RunEventsTopic }
func settlementTopic(c config.PubSubConfig) string   { return c.SettlementTopic }
func notificationTopic(c config.PubSubConfig) string { return c.NotificationTopic }

var catalog = []struct {
	event     enums.OutboxEventType
	aggregate enums.OutboxAggregateType
	topic     topicFunc
	decode    DecoderFunc
}{
	{enums.EventPoolCreated, enums.AggregatePool, poolTopic, JSONDecoder[payloads.PoolLifecycleEvent]()},
	{enums.EventPoolJoined, enums.AggregatePool, poolTopic, JSONDecoder[payloads.PoolMembershipEvent]()},
	{enums.EventPoolLeft, enums.AggregatePool, poolTopic, JSONDecoder[payloads.PoolMembershipEvent]()},
	{enums.EventPoolPending, enums.AggregatePool, poolTopic, JSONDecoder[payloads.PoolLifecycleEvent]()},
	{enums.EventPoolConfirmed, enums.AggregatePool, poolTopic, JSONDecoder[payloads.PoolConfirmedEvent]()},
	{enums.EventPoolCancelled, enums.AggregatePool, poolTopic, JSONDecoder[payloads.PoolLifecycleEvent]()},
	{enums.EventPoolCompleted, enums.AggregatePool, poolTopic, JSONDecoder[payloads.PoolLifecycleEvent]()},

	{enums.EventRunCreated, enums.AggregateRun, runTopic, JSONDecoder[payloads.RunLifecycleEvent]()},
	{enums.EventRunStopAdded, enums.AggregateRun, runTopic, JSONDecoder[payloads.RunLifecycleEvent]()},
	{enums.EventRunStopRemoved, enums.AggregateRun, runTopic, JSONDecoder[payloads.RunLifecycleEvent]()},
	{enums.EventRunStarted, enums.AggregateRun, runTopic, JSONDecoder[payloads.RunLifecycleEvent]()},
	{enums.EventRunCompleted, enums.AggregateRun, runTopic, JSONDecoder[payloads.RunLifecycleEvent]()},
	{enums.EventRunCancelled, enums.AggregateRun, runTopic, JSONDecoder[payloads.RunLifecycleEvent]()},
	{enums.EventStopDelivered, enums.AggregateRun, runTopic, JSONDecoder[payloads.StopOutcomeEvent]()},
	{enums.EventStopFailed, enums.AggregateRun, runTopic, JSONDecoder[payloads.StopOutcomeEvent]()},

	{enums.EventSettlementSettled, enums.AggregateSettlement, settlementTopic, JSONDecoder[payloads.SettlementSettledEvent]()},
	{enums.EventSettlementDuesFailed, enums.AggregateSettlement, settlementTopic, JSONDecoder[payloads.SettlementDuesFailedEvent]()},
	{enums.EventNotificationRequested, enums.AggregateNotification, notificationTopic, JSONDecoder[payloads.NotificationRequestedEvent]()},
}

// EventRegistry is the publisher's routing table.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry fails if any topic an event routes to is unset.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(catalog))}
	missing := map[enums.OutboxAggregateType]bool{}
	var errs error
	for _, c := range catalog {
		topic := c.topic(cfg)
		if topic == "" {
			if !missing[c.aggregate] {
				errs = errors.Join(errs, fmt.Errorf("%s events topic is required", c.aggregate))
				missing[c.aggregate] = true
			}
			continue
		}
		reg.entries[c.event] = EventDescriptor{EventType: c.event, AggregateType: c.aggregate, Topic: topic, decode: c.decode}
	}
	if errs != nil {
		return nil, errs
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure here is permanent for the row.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	permanent := func(format string, args ...any) (*ResolvedEvent, error) {
		return nil, NewNonRetryableError(fmt.Errorf(format, args...))
	}

	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return permanent("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return permanent("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return permanent("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return permanent("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return permanent("payload missing for %s", event.EventType)
	}
	payload, err := desc.decode(envelope.Data)
	if err != nil {
		return permanent("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
