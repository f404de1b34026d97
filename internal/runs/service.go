package runs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/internal/settlement"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/locks"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	"github.com/angelmondragon/packfinderz-pools/pkg/metrics"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/types"
)

const aggregateName = "shared_run"

// PoolLinker reference-counts the runs carrying a pool's goods.
type PoolLinker interface {
	AttachRun(ctx context.Context, poolID, shopID uuid.UUID) error
	DetachRun(ctx context.Context, poolID uuid.UUID) error
}

type ConsolidatorParams struct {
	Store      Store
	Locker     locks.Locker
	Pools      PoolLinker
	Settlement settlement.Ledger
	Events     outbox.Publisher
	Logger     *logger.Logger
	Metrics    *metrics.EngineMetrics
	Now        func() time.Time
}

// Consolidator groups deliveries into shared runs. Stops are admitted first come
// first served against the run's weight and volume capacity.
type Consolidator struct {
	store      Store
	locker     locks.Locker
	pools      PoolLinker
	settlement settlement.Ledger
	events     outbox.Publisher
	logg       *logger.Logger
	metrics    *metrics.EngineMetrics
	now        func() time.Time
}

func NewConsolidator(params ConsolidatorParams) (*Consolidator, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("run store required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Consolidator{
		store:      params.Store,
		locker:     params.Locker,
		pools:      params.Pools,
		settlement: params.Settlement,
		events:     params.Events,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        now,
	}, nil
}

type CreateRunInput struct {
	Zone           string
	ScheduledDate  time.Time
	CapacityWeight decimal.Decimal
	CapacityVolume decimal.Decimal
	FixedCostCents int64
	SplitMode      enums.SplitMode
}

func (c *Consolidator) CreateRun(ctx context.Context, input CreateRunInput) (run *models.SharedRun, err error) {
	defer func() { c.observe("create", err) }()

	zone := strings.TrimSpace(input.Zone)
	switch {
	case zone == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "zone is required")
	case input.ScheduledDate.IsZero():
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scheduled date is required")
	case !input.CapacityWeight.IsPositive():
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capacity weight must be greater than zero")
	case !input.CapacityVolume.IsPositive():
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capacity volume must be greater than zero")
	case !types.WithinQuantityLimit(input.CapacityWeight), !types.WithinQuantityLimit(input.CapacityVolume):
		return nil, pkgerrors.Rejection(pkgerrors.CodeValidation, pkgerrors.ReasonAmountOutOfRange, "capacity exceeds the supported range").
			WithDetails(map[string]any{"max": types.MaxQuantity.String()})
	case input.FixedCostCents < 0:
		return nil, pkgerrors.Rejection(pkgerrors.CodeValidation, pkgerrors.ReasonNegativeAmount, "fixed cost must not be negative")
	case input.FixedCostCents > types.MaxRunCostCents:
		return nil, pkgerrors.Rejection(pkgerrors.CodeValidation, pkgerrors.ReasonAmountOutOfRange, "fixed cost exceeds the supported range").
			WithDetails(map[string]any{"max_cents": types.MaxRunCostCents})
	case !input.SplitMode.IsValid():
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid split mode")
	}

	run = &models.SharedRun{
		ID:             uuid.New(),
		Zone:           zone,
		Status:         enums.RunStatusScheduled,
		CapacityWeight: input.CapacityWeight,
		CapacityVolume: input.CapacityVolume,
		UsedWeight:     decimal.Zero,
		UsedVolume:     decimal.Zero,
		ScheduledDate:  input.ScheduledDate.UTC(),
		FixedCostCents: input.FixedCostCents,
		SplitMode:      input.SplitMode,
		Version:        1,
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	c.metrics.ObserveTransition(aggregateName, string(run.Status))
	c.publish(ctx, runEvent(enums.EventRunCreated, run, nil, ""))
	return run.Clone(), nil
}

type StopInput struct {
	ShopID uuid.UUID
	PoolID *uuid.UUID
	Weight decimal.Decimal
	Volume decimal.Decimal
}

// AddStop appends a stop at the next sequence and recomputes every share. A stop
// carrying a pool id attaches the run to that pool first, which requires the
// pool to be confirmed and the stop's shop to be one of its active participants.
func (c *Consolidator) AddStop(ctx context.Context, runID uuid.UUID, input StopInput) (run *models.SharedRun, stop *models.DeliveryStop, err error) {
	defer func() { c.observe("add_stop", err) }()

	if input.ShopID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if !input.Weight.IsPositive() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "weight must be greater than zero")
	}
	if input.Volume.IsNegative() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "volume must not be negative")
	}

	if input.PoolID != nil && c.pools != nil {
		if err := c.pools.AttachRun(ctx, *input.PoolID, input.ShopID); err != nil {
			return nil, nil, err
		}
	}

	stopID := uuid.New()
	run, _, err = c.mutate(ctx, runID, func(run *models.SharedRun) (bool, error) {
		if run.Status != enums.RunStatusScheduled {
			return false, errRunLocked(run.Status)
		}
		if used := run.UsedWeight.Add(input.Weight); used.GreaterThan(run.CapacityWeight) {
			return false, errCapacityExceeded("weight", used.String(), run.CapacityWeight.String())
		}
		if used := run.UsedVolume.Add(input.Volume); used.GreaterThan(run.CapacityVolume) {
			return false, errCapacityExceeded("volume", used.String(), run.CapacityVolume.String())
		}
		run.Stops = append(run.Stops, models.DeliveryStop{
			ID:       stopID,
			RunID:    run.ID,
			PoolID:   clonePoolID(input.PoolID),
			ShopID:   input.ShopID,
			Sequence: len(run.Stops) + 1,
			Weight:   input.Weight,
			Volume:   input.Volume,
			Status:   enums.StopStatusPending,
		})
		recompute(run)
		return true, nil
	})
	if err != nil {
		if input.PoolID != nil && c.pools != nil {
			c.detach(ctx, *input.PoolID)
		}
		return nil, nil, err
	}

	added := findStop(run, stopID)
	c.publish(ctx, runEvent(enums.EventRunStopAdded, run, added, ""))
	return run, added, nil
}

func (c *Consolidator) RemoveStop(ctx context.Context, runID, stopID uuid.UUID, reason string) (run *models.SharedRun, err error) {
	defer func() { c.observe("remove_stop", err) }()

	var removed models.DeliveryStop
	run, _, err = c.mutate(ctx, runID, func(run *models.SharedRun) (bool, error) {
		if run.Status != enums.RunStatusScheduled {
			return false, errRunLocked(run.Status)
		}
		idx := -1
		for i, stop := range run.Stops {
			if stop.ID == stopID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false, errStopNotFound(stopID)
		}
		removed = run.Stops[idx].Clone()
		run.Stops = append(run.Stops[:idx], run.Stops[idx+1:]...)
		recompute(run)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if removed.PoolID != nil && c.pools != nil {
		c.detach(ctx, *removed.PoolID)
	}
	c.publish(ctx, runEvent(enums.EventRunStopRemoved, run, &removed, strings.TrimSpace(reason)))
	return run, nil
}

// ReorderStops sets the delivery order. stopIDs must list every stop exactly
// once; cost shares are left unchanged.
func (c *Consolidator) ReorderStops(ctx context.Context, runID uuid.UUID, stopIDs []uuid.UUID) (run *models.SharedRun, err error) {
	defer func() { c.observe("reorder_stops", err) }()

	run, _, err = c.mutate(ctx, runID, func(run *models.SharedRun) (bool, error) {
		if run.Status != enums.RunStatusScheduled {
			return false, errRunLocked(run.Status)
		}
		if len(stopIDs) != len(run.Stops) {
			return false, pkgerrors.New(pkgerrors.CodeValidation, "order must list every stop exactly once")
		}
		position := make(map[uuid.UUID]int, len(stopIDs))
		for i, id := range stopIDs {
			if _, dup := position[id]; dup {
				return false, pkgerrors.New(pkgerrors.CodeValidation, "order must list every stop exactly once")
			}
			position[id] = i + 1
		}
		for i := range run.Stops {
			seq, ok := position[run.Stops[i].ID]
			if !ok {
				return false, errStopNotFound(run.Stops[i].ID)
			}
			run.Stops[i].Sequence = seq
		}
		sortBySequence(run.Stops)
		return true, nil
	})
	return run, err
}

func (c *Consolidator) AssignDriver(ctx context.Context, runID, driverID uuid.UUID) (run *models.SharedRun, err error) {
	defer func() { c.observe("assign_driver", err) }()
	if driverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "driver id is required")
	}
	run, _, err = c.mutate(ctx, runID, func(run *models.SharedRun) (bool, error) {
		if run.Status != enums.RunStatusScheduled {
			return false, errRunLocked(run.Status)
		}
		id := driverID
		run.DriverID = &id
		return true, nil
	})
	return run, err
}

// Start sends the run out and records each stop's share as a run settlement due.
func (c *Consolidator) Start(ctx context.Context, runID uuid.UUID) (run *models.SharedRun, err error) {
	defer func() { c.observe("start", err) }()

	now := c.now()
	run, _, err = c.mutate(ctx, runID, func(run *models.SharedRun) (bool, error) {
		if run.Status != enums.RunStatusScheduled {
			return false, errRunLocked(run.Status)
		}
		if len(run.Stops) == 0 {
			return false, errEmptyRun()
		}
		startedAt := now
		run.Status = enums.RunStatusOutForDelivery
		run.StartedAt = &startedAt
		for i := range run.Stops {
			run.Stops[i].Status = enums.StopStatusOutForDelivery
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	c.metrics.ObserveTransition(aggregateName, string(run.Status))
	c.recordDues(ctx, run)
	c.publish(ctx, runEvent(enums.EventRunStarted, run, nil, ""))
	return run, nil
}

func (c *Consolidator) recordDues(ctx context.Context, run *models.SharedRun) {
	if c.settlement == nil {
		return
	}
	owed := make(map[uuid.UUID]int64)
	order := make([]uuid.UUID, 0, len(run.Stops))
	for _, stop := range run.Stops {
		if _, seen := owed[stop.ShopID]; !seen {
			order = append(order, stop.ShopID)
		}
		owed[stop.ShopID] += stop.CostShareCents
	}
	dues := make([]settlement.Due, 0, len(order))
	for _, shopID := range order {
		dues = append(dues, settlement.Due{ShopID: shopID, AmountCents: owed[shopID]})
	}
	if err := c.settlement.RecordDues(ctx, settlement.RunRef(run.ID), dues); err != nil {
		c.logError(c.runCtx(ctx, run.ID), "run.start.record_dues_failed", err)
		c.metrics.ObserveDispatchFailure(aggregateName, "record_dues")
		c.publish(ctx, settlement.DuesFailedEvent(settlement.RunRef(run.ID), dues, err, c.now()))
	}
}

// RecordDelivery marks a stop delivered or failed. The run must be out for
// delivery and the stop must not already have an outcome.
func (c *Consolidator) RecordDelivery(ctx context.Context, stopID uuid.UUID, outcome enums.DeliveryOutcome, proof string) (stop *models.DeliveryStop, err error) {
	defer func() { c.observe("record_delivery", err) }()

	status := outcome.StopStatus()
	if !status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outcome must be delivered or failed")
	}
	runID, err := c.store.RunIDForStop(ctx, stopID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	proof = strings.TrimSpace(proof)
	run, _, err := c.mutate(ctx, runID, func(run *models.SharedRun) (bool, error) {
		target := findStop(run, stopID)
		if target == nil {
			return false, errStopNotFound(stopID)
		}
		if run.Status != enums.RunStatusOutForDelivery {
			return false, errStopNotActive(target.Status)
		}
		if target.Status != enums.StopStatusOutForDelivery {
			return false, errStopNotActive(target.Status)
		}
		for i := range run.Stops {
			if run.Stops[i].ID != stopID {
				continue
			}
			at := now
			run.Stops[i].Status = status
			if proof != "" {
				run.Stops[i].ProofOfDelivery = &proof
			}
			if status == enums.StopStatusDelivered {
				run.Stops[i].DeliveredAt = &at
			} else {
				run.Stops[i].FailedAt = &at
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	stop = findStop(run, stopID)
	c.publish(ctx, stopOutcomeEvent(run, stop, now))
	return stop, nil
}

func (c *Consolidator) Complete(ctx context.Context, runID uuid.UUID) (run *models.SharedRun, err error) {
	defer func() { c.observe("complete", err) }()

	now := c.now()
	run, _, err = c.mutate(ctx, runID, func(run *models.SharedRun) (bool, error) {
		if run.Status != enums.RunStatusOutForDelivery {
			return false, errInvalidTransition(run.Status, enums.RunStatusCompleted)
		}
		outstanding := 0
		for _, stop := range run.Stops {
			if !stop.Status.IsTerminal() {
				outstanding++
			}
		}
		if outstanding > 0 {
			return false, errStopsOutstanding(outstanding)
		}
		completedAt := now
		run.Status = enums.RunStatusCompleted
		run.CompletedAt = &completedAt
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveTransition(aggregateName, string(run.Status))
	c.publish(ctx, runEvent(enums.EventRunCompleted, run, nil, ""))
	return run, nil
}

// Cancel drops a scheduled run and releases the pools its stops referenced.
func (c *Consolidator) Cancel(ctx context.Context, runID uuid.UUID, reason string) (run *models.SharedRun, err error) {
	defer func() { c.observe("cancel", err) }()

	now := c.now()
	reason = strings.TrimSpace(reason)
	run, _, err = c.mutate(ctx, runID, func(run *models.SharedRun) (bool, error) {
		if run.Status != enums.RunStatusScheduled {
			return false, errRunLocked(run.Status)
		}
		cancelledAt := now
		run.Status = enums.RunStatusCancelled
		run.CancelReason = &reason
		run.CancelledAt = &cancelledAt
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if c.pools != nil {
		for _, stop := range run.Stops {
			if stop.PoolID != nil {
				c.detach(ctx, *stop.PoolID)
			}
		}
	}
	c.metrics.ObserveTransition(aggregateName, string(run.Status))
	c.publish(ctx, runEvent(enums.EventRunCancelled, run, nil, reason))
	return run, nil
}

func (c *Consolidator) GetRun(ctx context.Context, runID uuid.UUID) (*models.SharedRun, error) {
	return c.store.GetRun(ctx, runID)
}

// RunForStop returns the run that owns stopID.
func (c *Consolidator) RunForStop(ctx context.Context, stopID uuid.UUID) (*models.SharedRun, error) {
	runID, err := c.store.RunIDForStop(ctx, stopID)
	if err != nil {
		return nil, err
	}
	return c.store.GetRun(ctx, runID)
}

// mutate loads the run under its lock, applies fn to a private copy, checks the
// capacity and sequence invariants and saves. The lock is released before returning.
func (c *Consolidator) mutate(ctx context.Context, runID uuid.UUID, fn func(run *models.SharedRun) (bool, error)) (*models.SharedRun, bool, error) {
	release, err := c.locker.Acquire(ctx, locks.RunKey(runID))
	if err != nil {
		return nil, false, err
	}
	defer release()

	current, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, false, err
	}
	working := current.Clone()
	changed, err := fn(working)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return current, false, nil
	}
	if err := Verify(working); err != nil {
		c.logError(c.runCtx(ctx, runID), "run.invariant_violated", err)
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "run invariant violated")
	}
	if err := c.store.SaveRun(ctx, working); err != nil {
		return nil, false, err
	}
	return working.Clone(), true, nil
}

// Verify checks capacity usage, contiguous sequence numbers and that the stop
// shares sum to the fixed cost.
func Verify(run *models.SharedRun) error {
	weight, volume := decimal.Zero, decimal.Zero
	seen := make(map[int]bool, len(run.Stops))
	var shares int64
	for _, stop := range run.Stops {
		weight = weight.Add(stop.Weight)
		volume = volume.Add(stop.Volume)
		shares += stop.CostShareCents
		if stop.Sequence < 1 || stop.Sequence > len(run.Stops) || seen[stop.Sequence] {
			return fmt.Errorf("run %s has a gap or duplicate at sequence %d", run.ID, stop.Sequence)
		}
		seen[stop.Sequence] = true
	}
	if !weight.Equal(run.UsedWeight) || !volume.Equal(run.UsedVolume) {
		return fmt.Errorf("run %s usage does not match its stops", run.ID)
	}
	if run.UsedWeight.GreaterThan(run.CapacityWeight) || run.UsedVolume.GreaterThan(run.CapacityVolume) {
		return fmt.Errorf("run %s exceeds its capacity", run.ID)
	}
	if len(run.Stops) > 0 && shares != run.FixedCostCents {
		return fmt.Errorf("run %s stop shares sum to %d, want %d", run.ID, shares, run.FixedCostCents)
	}
	return nil
}

func (c *Consolidator) detach(ctx context.Context, poolID uuid.UUID) {
	if err := c.pools.DetachRun(ctx, poolID); err != nil {
		c.logError(c.logPool(ctx, poolID), "run.detach_pool_failed", err)
	}
}

func (c *Consolidator) publish(ctx context.Context, events ...outbox.DomainEvent) {
	if c.events == nil || len(events) == 0 {
		return
	}
	if err := c.events.Publish(ctx, events...); err != nil {
		c.logError(ctx, "run.publish_failed", err)
	}
}

func (c *Consolidator) observe(operation string, err error) {
	c.metrics.ObserveOperation(aggregateName, operation, outcome(err))
}

func (c *Consolidator) runCtx(ctx context.Context, runID uuid.UUID) context.Context {
	if c.logg == nil {
		return ctx
	}
	return c.logg.WithRunID(ctx, runID.String())
}

func (c *Consolidator) logPool(ctx context.Context, poolID uuid.UUID) context.Context {
	if c.logg == nil {
		return ctx
	}
	return c.logg.WithPoolID(ctx, poolID.String())
}

func (c *Consolidator) logError(ctx context.Context, msg string, err error) {
	if c.logg == nil {
		return
	}
	c.logg.Error(ctx, msg, err)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if reason := pkgerrors.ReasonOf(err); reason != "" {
		return string(reason)
	}
	if typed := pkgerrors.As(err); typed != nil {
		return string(typed.Code())
	}
	return "error"
}

func findStop(run *models.SharedRun, stopID uuid.UUID) *models.DeliveryStop {
	for i := range run.Stops {
		if run.Stops[i].ID == stopID {
			stop := run.Stops[i].Clone()
			return &stop
		}
	}
	return nil
}

func clonePoolID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// CostBreakdown reports how the run's fixed cost is divided across its stops.
func (c *Consolidator) CostBreakdown(ctx context.Context, runID uuid.UUID) (*CostBreakdown, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return breakdownFor(run), nil
}
