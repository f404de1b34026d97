package runs

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/api/validators"
	internalruns "github.com/angelmondragon/packfinderz-pools/internal/runs"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

const maxReasonLength = 500

type createRunRequest struct {
	Zone           string    `json:"zone" validate:"required,max=120"`
	ScheduledDate  time.Time `json:"scheduled_date" validate:"required"`
	CapacityWeight string    `json:"capacity_weight" validate:"required,decimal_gt0"`
	CapacityVolume string    `json:"capacity_volume" validate:"required,decimal_gt0"`
	FixedCostCents int64     `json:"fixed_cost_cents" validate:"min=0,max=1000000000000"`
	SplitMode      string    `json:"split_mode" validate:"omitempty,oneof=weight flat"`
}

// toInput falls back to the configured split mode when the request omits one.
func (r createRunRequest) toInput(defaultMode enums.SplitMode) internalruns.CreateRunInput {
	mode := defaultMode
	if r.SplitMode != "" {
		mode = enums.SplitMode(r.SplitMode)
	}
	return internalruns.CreateRunInput{
		Zone:           strings.TrimSpace(r.Zone),
		ScheduledDate:  r.ScheduledDate.UTC(),
		CapacityWeight: validators.MustDecimal(r.CapacityWeight),
		CapacityVolume: validators.MustDecimal(r.CapacityVolume),
		FixedCostCents: r.FixedCostCents,
		SplitMode:      mode,
	}
}

type addStopRequest struct {
	ShopID string `json:"shop_id" validate:"required,uuid"`
	PoolID string `json:"pool_id" validate:"omitempty,uuid"`
	Weight string `json:"weight" validate:"required,decimal_gt0"`
	Volume string `json:"volume" validate:"required,decimal_gte0"`
}

func (r addStopRequest) toInput() internalruns.StopInput {
	input := internalruns.StopInput{
		ShopID: uuid.MustParse(r.ShopID),
		Weight: validators.MustDecimal(r.Weight),
		Volume: validators.MustDecimal(r.Volume),
	}
	if r.PoolID != "" {
		poolID := uuid.MustParse(r.PoolID)
		input.PoolID = &poolID
	}
	return input
}

type reorderRequest struct {
	StopIDs []string `json:"stop_ids" validate:"required,min=1,dive,uuid"`
}

func (r reorderRequest) ids() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.StopIDs))
	for _, raw := range r.StopIDs {
		out = append(out, uuid.MustParse(raw))
	}
	return out
}

type assignDriverRequest struct {
	DriverID string `json:"driver_id" validate:"required,uuid"`
}

type deliveryRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=delivered failed"`
	Proof   string `json:"proof" validate:"max=2000"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r cancelRequest) reason() string {
	return validators.SanitizeString(r.Reason, maxReasonLength)
}
