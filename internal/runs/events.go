package runs

import (
	"time"

	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/payloads"
)

func runEvent(eventType enums.OutboxEventType, run *models.SharedRun, stop *models.DeliveryStop, reason string) outbox.DomainEvent {
	payload := payloads.RunLifecycleEvent{
		RunID:      run.ID,
		Zone:       run.Zone,
		Status:     run.Status,
		StopCount:  len(run.Stops),
		UsedWeight: run.UsedWeight.String(),
		Reason:     reason,
	}
	if stop != nil {
		stopID, shopID := stop.ID, stop.ShopID
		payload.StopID = &stopID
		payload.ShopID = &shopID
	}
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateRun,
		AggregateID:   run.ID,
		Actor:         outbox.SystemActor("run_consolidator"),
		Data:          payload,
	}
}

func stopOutcomeEvent(run *models.SharedRun, stop *models.DeliveryStop, at time.Time) outbox.DomainEvent {
	eventType := enums.EventStopDelivered
	if stop.Status == enums.StopStatusFailed {
		eventType = enums.EventStopFailed
	}
	payload := payloads.StopOutcomeEvent{
		RunID:      run.ID,
		StopID:     stop.ID,
		ShopID:     stop.ShopID,
		Status:     stop.Status,
		RecordedAt: at,
	}
	if stop.ProofOfDelivery != nil {
		payload.Proof = *stop.ProofOfDelivery
	}
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateRun,
		AggregateID:   run.ID,
		Actor:         outbox.SystemActor("run_consolidator"),
		Data:          payload,
		OccurredAt:    at,
	}
}
