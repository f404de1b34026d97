package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePool         OutboxAggregateType = "pool"
	AggregateRun          OutboxAggregateType = "shared_run"
	AggregateSettlement   OutboxAggregateType = "settlement"
	AggregateLedgerEvent  OutboxAggregateType = "ledger_event"
	AggregateNotification OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePool,
	AggregateRun,
	AggregateSettlement,
	AggregateLedgerEvent,
	AggregateNotification,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPoolCreated           OutboxEventType = "pool_created"
	EventPoolJoined            OutboxEventType = "pool_joined"
	EventPoolLeft              OutboxEventType = "pool_left"
	EventPoolPending           OutboxEventType = "pool_pending"
	EventPoolConfirmed         OutboxEventType = "pool_confirmed"
	EventPoolCancelled         OutboxEventType = "pool_cancelled"
	EventPoolCompleted         OutboxEventType = "pool_completed"
	EventRunCreated            OutboxEventType = "run_created"
	EventRunStopAdded          OutboxEventType = "run_stop_added"
	EventRunStopRemoved        OutboxEventType = "run_stop_removed"
	EventRunStarted            OutboxEventType = "run_started"
	EventRunCompleted          OutboxEventType = "run_completed"
	EventRunCancelled          OutboxEventType = "run_cancelled"
	EventStopDelivered         OutboxEventType = "stop_delivered"
	EventStopFailed            OutboxEventType = "stop_failed"
	EventSettlementSettled     OutboxEventType = "settlement_settled"
	EventSettlementDuesFailed  OutboxEventType = "settlement_dues_failed"
	EventNotificationRequested OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPoolCreated,
	EventPoolJoined,
	EventPoolLeft,
	EventPoolPending,
	EventPoolConfirmed,
	EventPoolCancelled,
	EventPoolCompleted,
	EventRunCreated,
	EventRunStopAdded,
	EventRunStopRemoved,
	EventRunStarted,
	EventRunCompleted,
	EventRunCancelled,
	EventStopDelivered,
	EventStopFailed,
	EventSettlementSettled,
	EventSettlementDuesFailed,
	EventNotificationRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why the publisher gave up on an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
