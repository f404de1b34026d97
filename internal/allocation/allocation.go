// Package allocation splits a pool's goods and shipping cost across its participants
// in whole cents without drift.
package allocation

import (
	"bytes"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/types"
)

// Participant is one active commitment fed to the engine.
type Participant struct {
	ShopID   uuid.UUID
	Quantity decimal.Decimal
	JoinedAt time.Time
}

// Share is the money assigned to one participant.
type Share struct {
	ShopID         uuid.UUID       `json:"shop_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	GoodsCents     int64           `json:"goods_cents"`
	ShippingCents  int64           `json:"shipping_cents"`
	CostShareCents int64           `json:"cost_share_cents"`
	SavingsCents   int64           `json:"savings_cents"`
}

// Result is the full allocation for a pool. Shares keep the input order.
type Result struct {
	Commitment         decimal.Decimal `json:"commitment"`
	Tier               types.PriceTier `json:"tier"`
	TotalGoodsCents    int64           `json:"total_goods_cents"`
	TotalShippingCents int64           `json:"total_shipping_cents"`
	TotalCents         int64           `json:"total_cents"`
	TotalSavingsCents  int64           `json:"total_savings_cents"`
	RemainderShopID    uuid.UUID       `json:"remainder_shop_id"`
	Shares             []Share         `json:"shares"`
}

// ErrNoApplicablePriceTier is returned when the commitment sits below every breakpoint.
func errNoApplicablePriceTier(commitment decimal.Decimal) error {
	return pkgerrors.Rejection(pkgerrors.CodeInternal, pkgerrors.ReasonNoApplicablePriceTier, "no price tier applies to commitment").
		WithDetails(map[string]any{"commitment": commitment.String()})
}

// ResolveTier picks the tier with the largest breakpoint not above commitment.
func ResolveTier(schedule types.PriceSchedule, commitment decimal.Decimal) (types.PriceTier, error) {
	var (
		best  types.PriceTier
		found bool
	)
	for _, tier := range schedule.Tiers {
		if tier.MinQuantity.GreaterThan(commitment) {
			continue
		}
		if !found || tier.MinQuantity.GreaterThan(best.MinQuantity) {
			best = tier
			found = true
		}
	}
	if !found {
		return types.PriceTier{}, errNoApplicablePriceTier(commitment)
	}
	return best, nil
}

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

func errAmountOutOfRange(amount decimal.Decimal) error {
	return pkgerrors.Rejection(pkgerrors.CodeValidation, pkgerrors.ReasonAmountOutOfRange, "amount does not fit in the supported cents range").
		WithDetails(map[string]any{"amount_cents": amount.String()})
}

// toCents converts a whole-cent amount, failing instead of wrapping when it
// does not fit in an int64.
func toCents(amount decimal.Decimal) (int64, error) {
	if amount.GreaterThan(maxCents) || amount.LessThan(minCents) {
		return 0, errAmountOutOfRange(amount)
	}
	return amount.IntPart(), nil
}

// ShippingTotal is the pool's shipping cost for the given commitment.
func ShippingTotal(schedule types.PriceSchedule, commitment decimal.Decimal) (int64, error) {
	if schedule.ShippingMode == enums.ShippingModePerUnit {
		return toCents(decimal.NewFromInt(schedule.ShippingCents).Mul(commitment).Round(0))
	}
	return schedule.ShippingCents, nil
}

// Allocate computes every participant's goods, shipping and savings. The goods and
// shipping remainders left by truncation both go to the largest participant, so the
// shares always sum to TotalCents. Totals that do not fit in int64 cents are
// rejected with AmountOutOfRange.
func Allocate(schedule types.PriceSchedule, participants []Participant) (Result, error) {
	commitment := decimal.Zero
	for _, p := range participants {
		commitment = commitment.Add(p.Quantity)
	}

	tier, err := ResolveTier(schedule, commitment)
	if err != nil {
		return Result{}, err
	}
	if len(participants) == 0 || !commitment.IsPositive() {
		return Result{}, errNoApplicablePriceTier(commitment)
	}

	unitPrice := decimal.NewFromInt(tier.UnitPriceCents)
	priceGap := decimal.NewFromInt(schedule.IndividualUnitPriceCents).Sub(unitPrice)
	goodsDec := commitment.Mul(unitPrice).Round(0)
	totalGoods, err := toCents(goodsDec)
	if err != nil {
		return Result{}, err
	}
	totalShipping, err := ShippingTotal(schedule, commitment)
	if err != nil {
		return Result{}, err
	}
	shippingDec := decimal.NewFromInt(totalShipping)
	total, err := toCents(goodsDec.Add(shippingDec))
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Commitment:         commitment,
		Tier:               tier,
		TotalGoodsCents:    totalGoods,
		TotalShippingCents: totalShipping,
		TotalCents:         total,
		Shares:             make([]Share, len(participants)),
	}

	// With the totals in range, every truncated goods and shipping share is too.
	var goodsSum, shippingSum int64
	savingsSum := decimal.Zero
	for i, p := range participants {
		goods := p.Quantity.Mul(unitPrice).Floor().IntPart()
		shipping := shippingDec.Mul(p.Quantity).Div(commitment).Floor().IntPart()
		savings, err := toCents(priceGap.Mul(p.Quantity).Round(0))
		if err != nil {
			return Result{}, err
		}
		result.Shares[i] = Share{
			ShopID:        p.ShopID,
			Quantity:      p.Quantity,
			GoodsCents:    goods,
			ShippingCents: shipping,
			SavingsCents:  savings,
		}
		goodsSum += goods
		shippingSum += shipping
		savingsSum = savingsSum.Add(decimal.NewFromInt(savings))
	}
	if result.TotalSavingsCents, err = toCents(savingsSum); err != nil {
		return Result{}, err
	}

	idx := remainderIndex(participants)
	result.Shares[idx].GoodsCents += totalGoods - goodsSum
	result.Shares[idx].ShippingCents += totalShipping - shippingSum
	result.RemainderShopID = participants[idx].ShopID

	for i := range result.Shares {
		result.Shares[i].CostShareCents = result.Shares[i].GoodsCents + result.Shares[i].ShippingCents
	}
	return result, nil
}

// remainderIndex picks the largest quantity; ties go to the earliest joiner, then the lowest shop id.
func remainderIndex(participants []Participant) int {
	order := make([]int, len(participants))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := participants[order[a]], participants[order[b]]
		if cmp := pa.Quantity.Cmp(pb.Quantity); cmp != 0 {
			return cmp > 0
		}
		if !pa.JoinedAt.Equal(pb.JoinedAt) {
			return pa.JoinedAt.Before(pb.JoinedAt)
		}
		return bytes.Compare(pa.ShopID[:], pb.ShopID[:]) < 0
	})
	return order[0]
}
