package enums

import "fmt"

// PoolStatus tracks the lifecycle of a group-buying pool.
type PoolStatus string

const (
	PoolStatusOpen      PoolStatus = "open"
	PoolStatusPending   PoolStatus = "pending"
	PoolStatusConfirmed PoolStatus = "confirmed"
	PoolStatusCancelled PoolStatus = "cancelled"
	PoolStatusCompleted PoolStatus = "completed"
)

var validPoolStatuses = []PoolStatus{
	PoolStatusOpen,
	PoolStatusPending,
	PoolStatusConfirmed,
	PoolStatusCancelled,
	PoolStatusCompleted,
}

// String implements fmt.Stringer.
func (s PoolStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PoolStatus.
func (s PoolStatus) IsValid() bool {
	for _, candidate := range validPoolStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s PoolStatus) IsTerminal() bool {
	return s == PoolStatusCancelled || s == PoolStatusCompleted
}

// ParsePoolStatus converts raw input into a PoolStatus.
func ParsePoolStatus(value string) (PoolStatus, error) {
	for _, candidate := range validPoolStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pool status %q", value)
}
