package pools

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/api/middleware"
	"github.com/angelmondragon/packfinderz-pools/api/responses"
	"github.com/angelmondragon/packfinderz-pools/api/validators"
	internalpools "github.com/angelmondragon/packfinderz-pools/internal/pools"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	"github.com/angelmondragon/packfinderz-pools/pkg/pagination"
)

// Service is the slice of the pool manager the HTTP layer drives.
type Service interface {
	Create(ctx context.Context, input internalpools.CreateInput) (*models.Pool, error)
	Get(ctx context.Context, poolID uuid.UUID) (*models.Pool, error)
	List(ctx context.Context, params internalpools.ListParams) (*internalpools.ListResult, error)
	Join(ctx context.Context, poolID, shopID uuid.UUID, quantity decimal.Decimal) (*models.Pool, error)
	Leave(ctx context.Context, poolID, shopID uuid.UUID) (*models.Pool, error)
	EvaluateDeadline(ctx context.Context, poolID uuid.UUID) (*internalpools.EvaluationResult, error)
	Confirm(ctx context.Context, poolID uuid.UUID) (*models.Pool, error)
	Cancel(ctx context.Context, poolID uuid.UUID, reason string) (*models.Pool, error)
	Complete(ctx context.Context, poolID uuid.UUID) (*models.Pool, error)
	SavingsPreview(ctx context.Context, poolID, shopID uuid.UUID, quantity decimal.Decimal) (*internalpools.SavingsPreview, error)
	Analytics(ctx context.Context, poolID uuid.UUID) (*internalpools.Analytics, error)
	Invite(ctx context.Context, poolID uuid.UUID, contacts []string) error
}

// Create opens a pool led by the calling shop.
func Create(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, err := requireShop(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createPoolRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		pool, err := svc.Create(r.Context(), req.toInput(shopID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, pool)
	}
}

// List pages pools, optionally filtered by status, supplier or participating shop.
func List(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := internalpools.ListParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		query := r.URL.Query()
		if raw := strings.TrimSpace(query.Get("status")); raw != "" {
			status, err := enums.ParsePoolStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			params.Status = &status
		}
		if query.Get("supplierId") != "" {
			id, err := validators.ParseQueryUUID(r, "supplierId")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			params.SupplierID = &id
		}
		if query.Get("shopId") != "" {
			id, err := validators.ParseQueryUUID(r, "shopId")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			params.ShopID = &id
		}

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Get(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, err := validators.ParseUUIDParam(r, "poolId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pool, err := svc.Get(r.Context(), poolID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pool)
	}
}

// Join commits the calling shop to the pool.
func Join(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, shopID, err := poolAndShop(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req joinRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		pool, err := svc.Join(r.Context(), poolID, shopID, validators.MustDecimal(req.Quantity))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pool)
	}
}

// Leave withdraws the calling shop's commitment.
func Leave(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, shopID, err := poolAndShop(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pool, err := svc.Leave(r.Context(), poolID, shopID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pool)
	}
}

func Evaluate(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, err := validators.ParseUUIDParam(r, "poolId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.EvaluateDeadline(r.Context(), poolID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Confirm(svc Service, logg *logger.Logger) http.HandlerFunc {
	return poolTransition(svc.Confirm, logg)
}

func Complete(svc Service, logg *logger.Logger) http.HandlerFunc {
	return poolTransition(svc.Complete, logg)
}

func Cancel(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, err := validators.ParseUUIDParam(r, "poolId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		pool, err := svc.Cancel(r.Context(), poolID, req.reason())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pool)
	}
}

// SavingsPreview prices a hypothetical commitment. Shops always preview for
// themselves; operators must name the shop.
func SavingsPreview(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, err := validators.ParseUUIDParam(r, "poolId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quantity, err := validators.ParseQueryDecimal(r, "quantity")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shopID := middleware.ShopIDFromContext(r.Context())
		if raw := strings.TrimSpace(r.URL.Query().Get("shopId")); raw != "" || shopID == uuid.Nil {
			requested, err := validators.ParseQueryUUID(r, "shopId")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if shopID != uuid.Nil && requested != shopID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "shops may only preview their own savings"))
				return
			}
			shopID = requested
		}

		preview, err := svc.SavingsPreview(r.Context(), poolID, shopID, quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, preview)
	}
}

func Analytics(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, err := validators.ParseUUIDParam(r, "poolId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		analytics, err := svc.Analytics(r.Context(), poolID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, analytics)
	}
}

// Invite forwards contacts to the notification sender. Responds 202 since
// delivery happens downstream.
func Invite(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, _, err := poolAndShop(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req inviteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		contacts := req.contacts()
		if err := svc.Invite(r.Context(), poolID, contacts); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, inviteResponse{PoolID: poolID, Invited: len(contacts)})
	}
}

func poolTransition(fn func(context.Context, uuid.UUID) (*models.Pool, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, err := validators.ParseUUIDParam(r, "poolId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pool, err := fn(r.Context(), poolID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pool)
	}
}

func poolAndShop(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	poolID, err := validators.ParseUUIDParam(r, "poolId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	shopID, err := requireShop(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return poolID, shopID, nil
}

func requireShop(r *http.Request) (uuid.UUID, error) {
	shopID := middleware.ShopIDFromContext(r.Context())
	if shopID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "shop context required")
	}
	return shopID, nil
}
