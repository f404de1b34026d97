package enums

import "fmt"

// ShippingMode decides how a pool's shipping total is derived.
type ShippingMode string

const (
	ShippingModeFlat    ShippingMode = "flat"
	ShippingModePerUnit ShippingMode = "per_unit"
)

var validShippingModes = []ShippingMode{
	ShippingModeFlat,
	ShippingModePerUnit,
}

func (m ShippingMode) String() string {
	return string(m)
}

func (m ShippingMode) IsValid() bool {
	for _, candidate := range validShippingModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseShippingMode converts raw input into a ShippingMode.
func ParseShippingMode(value string) (ShippingMode, error) {
	for _, candidate := range validShippingModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipping mode %q", value)
}
