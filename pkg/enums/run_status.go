package enums

import "fmt"

// RunStatus tracks a shared delivery run.
type RunStatus string

const (
	RunStatusScheduled      RunStatus = "scheduled"
	RunStatusOutForDelivery RunStatus = "out_for_delivery"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusCancelled      RunStatus = "cancelled"
)

var validRunStatuses = []RunStatus{
	RunStatusScheduled,
	RunStatusOutForDelivery,
	RunStatusCompleted,
	RunStatusCancelled,
}

func (s RunStatus) String() string {
	return string(s)
}

func (s RunStatus) IsValid() bool {
	for _, candidate := range validRunStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseRunStatus converts raw input into a RunStatus.
func ParseRunStatus(value string) (RunStatus, error) {
	for _, candidate := range validRunStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid run status %q", value)
}

// StopStatus tracks a single delivery stop on a run.
type StopStatus string

const (
	StopStatusPending        StopStatus = "pending"
	StopStatusOutForDelivery StopStatus = "out_for_delivery"
	StopStatusDelivered      StopStatus = "delivered"
	StopStatusFailed         StopStatus = "failed"
)

var validStopStatuses = []StopStatus{
	StopStatusPending,
	StopStatusOutForDelivery,
	StopStatusDelivered,
	StopStatusFailed,
}

func (s StopStatus) String() string {
	return string(s)
}

func (s StopStatus) IsValid() bool {
	for _, candidate := range validStopStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the stop has been delivered or failed.
func (s StopStatus) IsTerminal() bool {
	return s == StopStatusDelivered || s == StopStatusFailed
}

// ParseStopStatus converts raw input into a StopStatus.
func ParseStopStatus(value string) (StopStatus, error) {
	for _, candidate := range validStopStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stop status %q", value)
}

// DeliveryOutcome is what a driver reports for a stop.
type DeliveryOutcome string

const (
	DeliveryOutcomeDelivered DeliveryOutcome = "delivered"
	DeliveryOutcomeFailed    DeliveryOutcome = "failed"
)

// ParseDeliveryOutcome converts raw input into a DeliveryOutcome.
func ParseDeliveryOutcome(value string) (DeliveryOutcome, error) {
	switch DeliveryOutcome(value) {
	case DeliveryOutcomeDelivered, DeliveryOutcomeFailed:
		return DeliveryOutcome(value), nil
	}
	return "", fmt.Errorf("invalid delivery outcome %q", value)
}

// StopStatus maps the outcome to the terminal stop status it produces.
func (o DeliveryOutcome) StopStatus() StopStatus {
	if o == DeliveryOutcomeDelivered {
		return StopStatusDelivered
	}
	return StopStatusFailed
}

// SplitMode selects how a run's fixed cost is split across stops.
type SplitMode string

const (
	SplitModeWeight SplitMode = "weight"
	SplitModeFlat   SplitMode = "flat"
)

func (m SplitMode) IsValid() bool {
	return m == SplitModeWeight || m == SplitModeFlat
}

// ParseSplitMode converts raw input into a SplitMode.
func ParseSplitMode(value string) (SplitMode, error) {
	mode := SplitMode(value)
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid split mode %q", value)
	}
	return mode, nil
}
