package runs

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
)

func errRunNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "run not found").
		WithDetails(map[string]any{"run_id": id.String()})
}

func errStopNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "stop not found").
		WithDetails(map[string]any{"stop_id": id.String()})
}

func errRunLocked(status enums.RunStatus) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonRunLocked, "run no longer accepts changes").
		WithDetails(map[string]any{"status": status})
}

func errCapacityExceeded(dimension, used, capacity string) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonCapacityExceeded, "stop does not fit in the run").
		WithDetails(map[string]any{"dimension": dimension, "used": used, "capacity": capacity})
}

func errEmptyRun() error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonEmptyRun, "run has no stops")
}

func errStopNotActive(status enums.StopStatus) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonStopNotActive, "stop is not out for delivery").
		WithDetails(map[string]any{"status": status})
}

func errStopsOutstanding(count int) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonStopsOutstanding, "run still has undelivered stops").
		WithDetails(map[string]any{"outstanding": count})
}

func errInvalidTransition(from, to enums.RunStatus) error {
	return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonInvalidTransition, "run status transition not allowed").
		WithDetails(map[string]any{"from": from, "to": to})
}
