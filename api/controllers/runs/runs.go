package runs

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/api/middleware"
	"github.com/angelmondragon/packfinderz-pools/api/responses"
	"github.com/angelmondragon/packfinderz-pools/api/validators"
	internalruns "github.com/angelmondragon/packfinderz-pools/internal/runs"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

// Service is the slice of the run consolidator the HTTP layer drives.
type Service interface {
	CreateRun(ctx context.Context, input internalruns.CreateRunInput) (*models.SharedRun, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*models.SharedRun, error)
	RunForStop(ctx context.Context, stopID uuid.UUID) (*models.SharedRun, error)
	AddStop(ctx context.Context, runID uuid.UUID, input internalruns.StopInput) (*models.SharedRun, *models.DeliveryStop, error)
	RemoveStop(ctx context.Context, runID, stopID uuid.UUID, reason string) (*models.SharedRun, error)
	ReorderStops(ctx context.Context, runID uuid.UUID, stopIDs []uuid.UUID) (*models.SharedRun, error)
	AssignDriver(ctx context.Context, runID, driverID uuid.UUID) (*models.SharedRun, error)
	Start(ctx context.Context, runID uuid.UUID) (*models.SharedRun, error)
	RecordDelivery(ctx context.Context, stopID uuid.UUID, outcome enums.DeliveryOutcome, proof string) (*models.DeliveryStop, error)
	Complete(ctx context.Context, runID uuid.UUID) (*models.SharedRun, error)
	Cancel(ctx context.Context, runID uuid.UUID, reason string) (*models.SharedRun, error)
	CostBreakdown(ctx context.Context, runID uuid.UUID) (*internalruns.CostBreakdown, error)
}

type addStopResponse struct {
	Run  *models.SharedRun    `json:"run"`
	Stop *models.DeliveryStop `json:"stop"`
}

func Create(svc Service, defaultMode enums.SplitMode, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRunRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		run, err := svc.CreateRun(r.Context(), req.toInput(defaultMode))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, run)
	}
}

func Get(svc Service, logg *logger.Logger) http.HandlerFunc {
	return runTransition(svc.GetRun, logg)
}

func AddStop(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := validators.ParseUUIDParam(r, "runId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req addStopRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		run, stop, err := svc.AddStop(r.Context(), runID, req.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, addStopResponse{Run: run, Stop: stop})
	}
}

// RemoveStop drops a stop; the optional reason travels as a query parameter.
func RemoveStop(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := validators.ParseUUIDParam(r, "runId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stopID, err := validators.ParseUUIDParam(r, "stopId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(r.URL.Query().Get("reason"), maxReasonLength)
		run, err := svc.RemoveStop(r.Context(), runID, stopID, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, run)
	}
}

func ReorderStops(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := validators.ParseUUIDParam(r, "runId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req reorderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		run, err := svc.ReorderStops(r.Context(), runID, req.ids())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, run)
	}
}

func AssignDriver(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := validators.ParseUUIDParam(r, "runId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req assignDriverRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		run, err := svc.AssignDriver(r.Context(), runID, uuid.MustParse(req.DriverID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, run)
	}
}

func Start(svc Service, logg *logger.Logger) http.HandlerFunc {
	return runTransition(svc.Start, logg)
}

func Complete(svc Service, logg *logger.Logger) http.HandlerFunc {
	return runTransition(svc.Complete, logg)
}

func Cancel(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := validators.ParseUUIDParam(r, "runId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req cancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		run, err := svc.Cancel(r.Context(), runID, req.reason())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, run)
	}
}

// RecordDelivery reports a stop outcome. Drivers may only report stops on runs
// assigned to them; operators may report any stop.
func RecordDelivery(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stopID, err := validators.ParseUUIDParam(r, "stopId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req deliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := enums.ParseDeliveryOutcome(req.Outcome)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid outcome"))
			return
		}

		actor, _ := middleware.ActorFromContext(r.Context())
		if actor.Role == enums.ActorRoleDriver {
			run, err := svc.RunForStop(r.Context(), stopID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if run.DriverID == nil || *run.DriverID != actor.SubjectID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "run is not assigned to this driver"))
				return
			}
		}

		stop, err := svc.RecordDelivery(r.Context(), stopID, outcome, strings.TrimSpace(req.Proof))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stop)
	}
}

func CostBreakdown(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := validators.ParseUUIDParam(r, "runId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		breakdown, err := svc.CostBreakdown(r.Context(), runID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, breakdown)
	}
}

func runTransition(fn func(context.Context, uuid.UUID) (*models.SharedRun, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := validators.ParseUUIDParam(r, "runId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		run, err := fn(r.Context(), runID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, run)
	}
}
