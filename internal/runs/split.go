package runs

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

// SplitCost divides fixedCents across stops, by weight or evenly. Each share is
// truncated to whole cents and the remainder goes to the heaviest stop, ties to
// the lowest sequence, so the shares always sum to fixedCents.
func SplitCost(fixedCents int64, mode enums.SplitMode, stops []models.DeliveryStop) []int64 {
	shares := make([]int64, len(stops))
	if len(stops) == 0 {
		return shares
	}

	totalWeight := decimal.Zero
	for _, stop := range stops {
		totalWeight = totalWeight.Add(stop.Weight)
	}
	fixed := decimal.NewFromInt(fixedCents)
	byWeight := mode == enums.SplitModeWeight && totalWeight.IsPositive()

	var sum int64
	for i, stop := range stops {
		if byWeight {
			shares[i] = fixed.Mul(stop.Weight).Div(totalWeight).Floor().IntPart()
		} else {
			shares[i] = fixedCents / int64(len(stops))
		}
		sum += shares[i]
	}
	shares[heaviestIndex(stops)] += fixedCents - sum
	return shares
}

func heaviestIndex(stops []models.DeliveryStop) int {
	order := make([]int, len(stops))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := stops[order[a]], stops[order[b]]
		if cmp := sa.Weight.Cmp(sb.Weight); cmp != 0 {
			return cmp > 0
		}
		return sa.Sequence < sb.Sequence
	})
	return order[0]
}

// recompute refreshes usage totals, contiguous sequence numbers and cost shares.
func recompute(run *models.SharedRun) {
	sort.SliceStable(run.Stops, func(i, j int) bool { return run.Stops[i].Sequence < run.Stops[j].Sequence })
	run.UsedWeight = decimal.Zero
	run.UsedVolume = decimal.Zero
	for i := range run.Stops {
		run.Stops[i].Sequence = i + 1
		run.UsedWeight = run.UsedWeight.Add(run.Stops[i].Weight)
		run.UsedVolume = run.UsedVolume.Add(run.Stops[i].Volume)
	}
	for i, share := range SplitCost(run.FixedCostCents, run.SplitMode, run.Stops) {
		run.Stops[i].CostShareCents = share
	}
}

func sortBySequence(stops []models.DeliveryStop) {
	sort.SliceStable(stops, func(i, j int) bool { return stops[i].Sequence < stops[j].Sequence })
}

// StopCost is one line of a run's cost breakdown.
type StopCost struct {
	StopID         uuid.UUID       `json:"stop_id"`
	ShopID         uuid.UUID       `json:"shop_id"`
	Sequence       int             `json:"sequence"`
	Weight         decimal.Decimal `json:"weight"`
	CostShareCents int64           `json:"cost_share_cents"`
}

type CostBreakdown struct {
	RunID          uuid.UUID       `json:"run_id"`
	SplitMode      enums.SplitMode `json:"split_mode"`
	FixedCostCents int64           `json:"fixed_cost_cents"`
	TotalWeight    decimal.Decimal `json:"total_weight"`
	Stops          []StopCost      `json:"stops"`
}

func breakdownFor(run *models.SharedRun) *CostBreakdown {
	out := &CostBreakdown{
		RunID:          run.ID,
		SplitMode:      run.SplitMode,
		FixedCostCents: run.FixedCostCents,
		TotalWeight:    run.UsedWeight,
		Stops:          make([]StopCost, 0, len(run.Stops)),
	}
	for _, stop := range run.Stops {
		out.Stops = append(out.Stops, StopCost{
			StopID:         stop.ID,
			ShopID:         stop.ShopID,
			Sequence:       stop.Sequence,
			Weight:         stop.Weight,
			CostShareCents: stop.CostShareCents,
		})
	}
	return out
}
