package pools

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/api/validators"
	internalpools "github.com/angelmondragon/packfinderz-pools/internal/pools"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/types"
)

const (
	defaultMinParticipants = 2
	maxTitleLength         = 200
	maxReasonLength        = 500
)

type priceTierRequest struct {
	MinQuantity    string `json:"min_quantity" validate:"required,decimal_gt0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"min=0,max=1000000000"`
}

type priceScheduleRequest struct {
	Tiers                    []priceTierRequest `json:"tiers" validate:"required,min=1,dive"`
	IndividualUnitPriceCents int64              `json:"individual_unit_price_cents" validate:"min=0,max=1000000000"`
	ShippingMode             string             `json:"shipping_mode" validate:"omitempty,oneof=flat per_unit"`
	ShippingCents            int64              `json:"shipping_cents" validate:"min=0,max=1000000000"`
}

type createPoolRequest struct {
	SupplierID      string               `json:"supplier_id" validate:"required,uuid"`
	Title           string               `json:"title" validate:"required,max=200"`
	TargetQuantity  string               `json:"target_quantity" validate:"required,decimal_gt0"`
	MinParticipants int                  `json:"min_participants" validate:"omitempty,min=1"`
	MaxParticipants int                  `json:"max_participants" validate:"required,min=1"`
	PriceSchedule   priceScheduleRequest `json:"price_schedule"`
	Deadline        time.Time            `json:"deadline" validate:"required"`
	LeadQuantity    string               `json:"lead_quantity" validate:"omitempty,decimal_gte0"`
}

// toInput applies the documented defaults: two participants minimum and flat
// shipping when no mode is given.
func (r createPoolRequest) toInput(leadShopID uuid.UUID) internalpools.CreateInput {
	minParticipants := r.MinParticipants
	if minParticipants == 0 {
		minParticipants = defaultMinParticipants
	}
	mode := enums.ShippingModeFlat
	if r.PriceSchedule.ShippingMode != "" {
		mode = enums.ShippingMode(r.PriceSchedule.ShippingMode)
	}
	tiers := make([]types.PriceTier, 0, len(r.PriceSchedule.Tiers))
	for _, tier := range r.PriceSchedule.Tiers {
		tiers = append(tiers, types.PriceTier{
			MinQuantity:    validators.MustDecimal(tier.MinQuantity),
			UnitPriceCents: tier.UnitPriceCents,
		})
	}
	lead := decimal.Zero
	if r.LeadQuantity != "" {
		lead = validators.MustDecimal(r.LeadQuantity)
	}
	return internalpools.CreateInput{
		LeadShopID:      leadShopID,
		SupplierID:      uuid.MustParse(r.SupplierID),
		Title:           validators.SanitizeString(r.Title, maxTitleLength),
		TargetQuantity:  validators.MustDecimal(r.TargetQuantity),
		MinParticipants: minParticipants,
		MaxParticipants: r.MaxParticipants,
		PriceSchedule: types.PriceSchedule{
			Tiers:                    tiers,
			IndividualUnitPriceCents: r.PriceSchedule.IndividualUnitPriceCents,
			ShippingMode:             mode,
			ShippingCents:            r.PriceSchedule.ShippingCents,
		},
		Deadline:     r.Deadline.UTC(),
		LeadQuantity: lead,
	}
}

type joinRequest struct {
	Quantity string `json:"quantity" validate:"required,decimal_gt0"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r cancelRequest) reason() string {
	return validators.SanitizeString(r.Reason, maxReasonLength)
}

type inviteRequest struct {
	Contacts []string `json:"contacts" validate:"required,min=1,max=50,dive,required"`
}

func (r inviteRequest) contacts() []string {
	out := make([]string, 0, len(r.Contacts))
	for _, contact := range r.Contacts {
		out = append(out, strings.TrimSpace(contact))
	}
	return out
}

type inviteResponse struct {
	PoolID  uuid.UUID `json:"pool_id"`
	Invited int       `json:"invited"`
}
