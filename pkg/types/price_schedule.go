package types

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

// PriceTier is a supplier quantity breakpoint and the unit price that applies at or above it.
type PriceTier struct {
	MinQuantity    decimal.Decimal `json:"min_quantity"`
	UnitPriceCents int64           `json:"unit_price_cents"`
}

// PriceSchedule is the supplier's pricing for a pool.
type PriceSchedule struct {
	Tiers                    []PriceTier        `json:"tiers"`
	IndividualUnitPriceCents int64              `json:"individual_unit_price_cents"`
	ShippingMode             enums.ShippingMode `json:"shipping_mode"`
	ShippingCents            int64              `json:"shipping_cents"`
}

// LowestBreakpoint returns the smallest tier quantity, or zero when there are no tiers.
func (s PriceSchedule) LowestBreakpoint() decimal.Decimal {
	if len(s.Tiers) == 0 {
		return decimal.Zero
	}
	lowest := s.Tiers[0].MinQuantity
	for _, tier := range s.Tiers[1:] {
		if tier.MinQuantity.LessThan(lowest) {
			lowest = tier.MinQuantity
		}
	}
	return lowest
}
