package allocation

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/pkg/types"
)

// TierPreview describes pricing for a hypothetical commitment.
type TierPreview struct {
	Commitment      decimal.Decimal  `json:"commitment"`
	TierReached     bool             `json:"tier_reached"`
	Tier            *types.PriceTier `json:"tier,omitempty"`
	NextTier        *types.PriceTier `json:"next_tier,omitempty"`
	UnitsToNextTier decimal.Decimal  `json:"units_to_next_tier"`
	ShippingCents   int64            `json:"shipping_cents"`
}

// Preview resolves the tier a commitment would reach and how far the next one is.
func Preview(schedule types.PriceSchedule, commitment decimal.Decimal) (TierPreview, error) {
	shipping, err := ShippingTotal(schedule, commitment)
	if err != nil {
		return TierPreview{}, err
	}
	preview := TierPreview{
		Commitment:      commitment,
		UnitsToNextTier: decimal.Zero,
		ShippingCents:   shipping,
	}
	if tier, err := ResolveTier(schedule, commitment); err == nil {
		preview.TierReached = true
		preview.Tier = &tier
	}
	for _, tier := range schedule.Tiers {
		if !tier.MinQuantity.GreaterThan(commitment) {
			continue
		}
		if preview.NextTier == nil || tier.MinQuantity.LessThan(preview.NextTier.MinQuantity) {
			next := tier
			preview.NextTier = &next
		}
	}
	if preview.NextTier != nil {
		preview.UnitsToNextTier = preview.NextTier.MinQuantity.Sub(commitment)
	}
	return preview, nil
}

// EstimateShare prices one participant's quantity inside a pool at the given total
// commitment. When the commitment has not reached a tier the lowest tier is used.
func EstimateShare(schedule types.PriceSchedule, quantity, commitment decimal.Decimal) (Share, bool, error) {
	tier, err := ResolveTier(schedule, commitment)
	reached := err == nil
	if !reached {
		lowest, lowestErr := ResolveTier(schedule, schedule.LowestBreakpoint())
		if lowestErr != nil {
			return Share{Quantity: quantity}, false, nil
		}
		tier = lowest
	}
	unitPrice := decimal.NewFromInt(tier.UnitPriceCents)
	goods := quantity.Mul(unitPrice).Floor()

	shipping := decimal.Zero
	if commitment.IsPositive() {
		total, err := ShippingTotal(schedule, commitment)
		if err != nil {
			return Share{}, reached, err
		}
		shipping = decimal.NewFromInt(total).Mul(quantity).Div(commitment).Floor()
	}
	savings := decimal.NewFromInt(schedule.IndividualUnitPriceCents).Sub(unitPrice).Mul(quantity).Round(0)

	share := Share{Quantity: quantity}
	for _, field := range []struct {
		dst *int64
		val decimal.Decimal
	}{
		{&share.GoodsCents, goods},
		{&share.ShippingCents, shipping},
		{&share.CostShareCents, goods.Add(shipping)},
		{&share.SavingsCents, savings},
	} {
		if *field.dst, err = toCents(field.val); err != nil {
			return Share{}, reached, err
		}
	}
	return share, reached, nil
}
