package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	"github.com/angelmondragon/packfinderz-pools/pkg/metrics"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/registry"
)

func poolConfirmedRow(t *testing.T, eventID string) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPoolConfirmed,
		AggregateType: enums.AggregatePool,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, eventID),
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func resolvedFor(topic string, aggregate enums.OutboxAggregateType, payload any) *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: topic, AggregateType: aggregate},
		Envelope:   outbox.PayloadEnvelope{EventID: uuid.NewString(), OccurredAt: time.Now()},
		Payload:    payload,
	}
}

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		poolConfirmedRow(t, "event-one"),
		poolConfirmedRow(t, "event-two"),
	}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	reg := &fakeRegistry{resolved: resolvedFor("pool-topic", enums.AggregatePool, &payloads.PoolConfirmedEvent{})}
	service := newTestService(t, repo, pub, reg, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, repo.failed, 1)
	require.Len(t, repo.published, 1)
	assert.Equal(t, repo.events[0].ID, repo.failed[0])
	assert.Equal(t, repo.events[1].ID, repo.published[0])
}

func TestPublishSetsOrderingKeyAndAttributes(t *testing.T) {
	row := poolConfirmedRow(t, "ordered")
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	reg := &fakeRegistry{resolved: resolvedFor("pool-topic", enums.AggregatePool, &payloads.PoolConfirmedEvent{})}
	service := newTestService(t, repo, pub, reg, nil)

	var topics []string
	service.publisherFactory = func(topic string) publisher {
		topics = append(topics, topic)
		return pub
	}

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"pool-topic"}, topics)
	require.Len(t, pub.sent, 1)
	msg := pub.sent[0]
	assert.Equal(t, row.AggregateID.String(), msg.OrderingKey)
	assert.Equal(t, string(enums.EventPoolConfirmed), msg.Attributes["event_type"])
	assert.Equal(t, string(enums.AggregatePool), msg.Attributes["aggregate_type"])
	assert.Equal(t, row.ID.String(), msg.Attributes["event_id"])
	assert.JSONEq(t, string(row.Payload), string(msg.Data))
}

func TestRunEventsRouteToRunTopic(t *testing.T) {
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventRunStarted,
		AggregateType: enums.AggregateRun,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "run-started"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	reg := &fakeRegistry{resolved: resolvedFor("run-topic", enums.AggregateRun, &payloads.RunLifecycleEvent{})}
	service := newTestService(t, repo, pub, reg, nil)
	service.publisherFactory = func(topic string) publisher {
		if topic != "run-topic" {
			t.Fatalf("unexpected topic %q", topic)
		}
		return pub
	}

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{row.ID}, repo.published)
}

func TestProcessBatchDeadLettersNonRetryable(t *testing.T) {
	row := poolConfirmedRow(t, "nonretryable")
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	service := newTestService(t, repo, &fakePublisher{}, reg, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, repo.deadLetters, 1)
	entry := repo.deadLetters[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.Equal(t, []byte(row.Payload), []byte(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), entry.FailedAt)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "invalid payload")
	assert.Equal(t, 5, repo.terminalAttempts)
}

func TestProcessBatchDeadLettersAtMaxAttempts(t *testing.T) {
	row := poolConfirmedRow(t, "max-attempts")
	row.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	reg := &fakeRegistry{resolved: resolvedFor("pool-topic", enums.AggregatePool, &payloads.PoolConfirmedEvent{})}
	service := newTestService(t, repo, pub, reg, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, repo.deadLetters, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, repo.deadLetters[0].ErrorReason)
	assert.Empty(t, repo.failed)
}

func TestMissingPublisherIsNonRetryable(t *testing.T) {
	row := poolConfirmedRow(t, "no-publisher")
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	reg := &fakeRegistry{resolved: resolvedFor("pool-topic", enums.AggregatePool, &payloads.PoolConfirmedEvent{})}
	service := newTestService(t, repo, nil, reg, nil)
	service.publisherFactory = func(string) publisher { return nil }

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, repo.deadLetters, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, repo.deadLetters[0].ErrorReason)
}

func TestDeliveryMetricsCountResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	repo := &fakeRepo{events: []models.OutboxEvent{
		poolConfirmedRow(t, "a"),
		poolConfirmedRow(t, "b"),
	}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{},
		fakePublishResult{err: errors.New("transient")},
	}}
	resolver := &fakeRegistry{resolved: resolvedFor("pool-topic", enums.AggregatePool, &payloads.PoolConfirmedEvent{})}
	service := newTestService(t, repo, pub, resolver, nil)
	service.metrics = metrics.NewOutboxMetrics(reg)

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "pools_outbox_deliveries_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" {
					counts[label.GetValue()] += metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 1.0, counts[resultPublished])
	assert.Equal(t, 1.0, counts[resultRetry])
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	_, err = NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:         &fakeDB{},
		PubSub:     &fakePubSubClient{},
		Repository: &fakeRepo{},
	})
	require.EqualError(t, err, "event registry is required")
}

func TestNextBackoffCaps(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, time.Second, nextBackoff(base, base, backoffCeiling))
	assert.Equal(t, backoffCeiling, nextBackoff(8*time.Second, base, backoffCeiling))
	assert.Equal(t, time.Second, nextBackoff(0, base, backoffCeiling))
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, resolver registryResolver, outboxCfgOverride *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	service, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         resolver,
		PublisherFactory: func(string) publisher { return pub },
		Now:              func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return service
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events           []models.OutboxEvent
	published        []uuid.UUID
	failed           []uuid.UUID
	deadLetters      []models.OutboxDLQ
	terminalAttempts int
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) DeadLetterTx(_ *gorm.DB, entry models.OutboxDLQ, terminalAttempts int) error {
	f.deadLetters = append(f.deadLetters, entry)
	f.terminalAttempts = terminalAttempts
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results []publishResult
	sent    []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	return &resolved, f.err
}
