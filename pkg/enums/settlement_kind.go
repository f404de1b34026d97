package enums

import "fmt"

// SettlementKind identifies what a settlement record is collecting for.
type SettlementKind string

const (
	SettlementKindPool SettlementKind = "pool"
	SettlementKindRun  SettlementKind = "run"
)

var validSettlementKinds = []SettlementKind{
	SettlementKindPool,
	SettlementKindRun,
}

func (k SettlementKind) String() string {
	return string(k)
}

func (k SettlementKind) IsValid() bool {
	for _, candidate := range validSettlementKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseSettlementKind converts raw input into a SettlementKind.
func ParseSettlementKind(value string) (SettlementKind, error) {
	for _, candidate := range validSettlementKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement kind %q", value)
}
