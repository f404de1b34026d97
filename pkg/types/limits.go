package types

import "github.com/shopspring/decimal"

// Input ceilings. A quantity at MaxQuantity priced at MaxUnitCents, plus
// per-unit shipping at the same ceiling, still fits in int64 cents.
const (
	MaxUnitCents    int64 = 1_000_000_000
	MaxRunCostCents int64 = 1_000_000_000_000
)

// MaxQuantity bounds committed quantities, breakpoints, weights and volumes.
var MaxQuantity = decimal.New(1, 9)

// WithinQuantityLimit reports whether d is in [0, MaxQuantity].
func WithinQuantityLimit(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(MaxQuantity)
}
