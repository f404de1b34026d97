package settlement

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/api/responses"
	"github.com/angelmondragon/packfinderz-pools/api/validators"
	internalsettlement "github.com/angelmondragon/packfinderz-pools/internal/settlement"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

type Service interface {
	RecordDue(ctx context.Context, input internalsettlement.DueInput) (*models.SettlementRecord, error)
	RecordPayment(ctx context.Context, input internalsettlement.PaymentInput) (*internalsettlement.PaymentResult, error)
	Snapshot(ctx context.Context, ref internalsettlement.Reference) (*internalsettlement.Snapshot, error)
}

// entryRequest is shared by dues and payments. Amount sign is checked by the
// ledger so negative values surface the NEGATIVE_AMOUNT reason.
type entryRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=pool run"`
	ReferenceID string `json:"reference_id" validate:"required,uuid"`
	ShopID      string `json:"shop_id" validate:"required,uuid"`
	AmountCents int64  `json:"amount_cents"`
}

func (r entryRequest) reference() internalsettlement.Reference {
	return internalsettlement.Reference{
		Kind: enums.SettlementKind(r.Kind),
		ID:   uuid.MustParse(r.ReferenceID),
	}
}

// RecordDue sets what a shop owes against a pool or run.
func RecordDue(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req entryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.RecordDue(r.Context(), internalsettlement.DueInput{
			Reference:   req.reference(),
			ShopID:      uuid.MustParse(req.ShopID),
			AmountCents: req.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// RecordPayment applies a collected amount. Overpayments are rejected and leave
// the ledger untouched.
func RecordPayment(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req entryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.RecordPayment(r.Context(), internalsettlement.PaymentInput{
			Reference:   req.reference(),
			ShopID:      uuid.MustParse(req.ShopID),
			AmountCents: req.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Snapshot(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := enums.ParseSettlementKind(strings.TrimSpace(chi.URLParam(r, "kind")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid settlement kind"))
			return
		}
		referenceID, err := validators.ParseUUIDParam(r, "referenceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snapshot, err := svc.Snapshot(r.Context(), internalsettlement.Reference{Kind: kind, ID: referenceID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}
