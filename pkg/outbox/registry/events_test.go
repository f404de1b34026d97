package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/payloads"
)

var testTopics = config.PubSubConfig{
	PoolEventsTopic:   "pool-topic",
	RunEventsTopic:    "run-topic",
	SettlementTopic:   "settlement-topic",
	NotificationTopic: "notification-topic",
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(testTopics)
	require.NoError(t, err)
	return reg
}

func envelope(t *testing.T, data any) json.RawMessage {
	t.Helper()
	raw, ok := data.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(data)
		require.NoError(t, err)
	}
	out, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	require.NoError(t, err)
	return out
}

func row(eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, payload json.RawMessage) models.OutboxEvent {
	return models.OutboxEvent{EventType: eventType, AggregateType: aggregate, AggregateID: uuid.New(), Payload: payload}
}

func TestResolveDecodesConfirmedPool(t *testing.T) {
	reg := newTestEventRegistry(t)
	shopID := uuid.New()
	resolved, err := reg.Resolve(row(enums.EventPoolConfirmed, enums.AggregatePool, envelope(t, payloads.PoolConfirmedEvent{
		PoolID:         uuid.New(),
		UnitPriceCents: 850,
		Shares:         []payloads.ParticipantShare{{ShopID: shopID, Quantity: "40", CostShareCents: 34000}},
	})))
	require.NoError(t, err)

	assert.Equal(t, "pool-topic", resolved.Descriptor.Topic)
	assert.NotEmpty(t, resolved.Envelope.EventID)
	payload, ok := resolved.Payload.(*payloads.PoolConfirmedEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	require.Len(t, payload.Shares, 1)
	assert.Equal(t, shopID, payload.Shares[0].ShopID)
}

func TestResolveRoutesEveryCatalogEntry(t *testing.T) {
	reg := newTestEventRegistry(t)
	want := map[enums.OutboxAggregateType]string{
		enums.AggregatePool:         "pool-topic",
		enums.AggregateRun:          "run-topic",
		enums.AggregateSettlement:   "settlement-topic",
		enums.AggregateNotification: "notification-topic",
	}
	for _, c := range catalog {
		desc, ok := reg.entries[c.event]
		require.True(t, ok, c.event)
		assert.Equal(t, want[c.aggregate], desc.Topic, c.event)
	}
}

func TestResolveStopOutcomeGoesToRunTopic(t *testing.T) {
	resolved, err := newTestEventRegistry(t).Resolve(row(enums.EventStopFailed, enums.AggregateRun,
		envelope(t, payloads.StopOutcomeEvent{StopID: uuid.New(), Status: enums.StopStatusFailed})))
	require.NoError(t, err)
	assert.Equal(t, "run-topic", resolved.Descriptor.Topic)
	assert.Equal(t, enums.StopStatusFailed, resolved.Payload.(*payloads.StopOutcomeEvent).Status)
}

func TestResolveDuesFailedGoesToSettlementTopic(t *testing.T) {
	shopID := uuid.New()
	resolved, err := newTestEventRegistry(t).Resolve(row(enums.EventSettlementDuesFailed, enums.AggregateSettlement,
		envelope(t, payloads.SettlementDuesFailedEvent{
			ReferenceKind: enums.SettlementKindRun,
			ReferenceID:   uuid.New(),
			Dues:          []payloads.DueLine{{ShopID: shopID, AmountCents: 750}},
			Error:         "ledger unavailable",
		})))
	require.NoError(t, err)
	assert.Equal(t, "settlement-topic", resolved.Descriptor.Topic)
	payload := resolved.Payload.(*payloads.SettlementDuesFailedEvent)
	require.Len(t, payload.Dues, 1)
	assert.Equal(t, shopID, payload.Dues[0].ShopID)
}

func TestResolveRejectsPermanently(t *testing.T) {
	reg := newTestEventRegistry(t)
	missingID := row(enums.EventPoolCreated, enums.AggregatePool, envelope(t, []byte(`{}`)))
	missingID.AggregateID = uuid.Nil

	cases := map[string]models.OutboxEvent{
		"unknown type":       row("invoice_issued", enums.AggregateLedgerEvent, envelope(t, []byte(`{"reason":"none"}`))),
		"aggregate mismatch": row(enums.EventRunStarted, enums.AggregatePool, envelope(t, []byte(`{}`))),
		"missing id":         missingID,
		"null payload":       row(enums.EventSettlementSettled, enums.AggregateSettlement, envelope(t, []byte("null"))),
		"bad envelope":       row(enums.EventPoolCreated, enums.AggregatePool, json.RawMessage(`[1,2]`)),
		"bad payload":        row(enums.EventPoolJoined, enums.AggregatePool, envelope(t, []byte(`{"quantity":{}}`))),
	}
	for name, event := range cases {
		_, err := reg.Resolve(event)
		require.Error(t, err, name)
		assert.True(t, IsNonRetryable(err), name)
	}
}

func TestNewEventRegistryReportsEachMissingTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{PoolEventsTopic: "pool-topic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run events topic is required")
	assert.Contains(t, err.Error(), "settlement events topic is required")
	assert.NotContains(t, err.Error(), "pool events")
}
