package pools

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/internal/allocation"
	"github.com/angelmondragon/packfinderz-pools/internal/settlement"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/locks"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	"github.com/angelmondragon/packfinderz-pools/pkg/metrics"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/pagination"
	"github.com/angelmondragon/packfinderz-pools/pkg/types"
)

const (
	aggregateName = "pool"

	// CancelReasonDeadlineNotMet is recorded when deadline evaluation cancels a pool.
	CancelReasonDeadlineNotMet = "deadline_not_met"
)

// Sender hands invite requests to the notification service.
type Sender interface {
	SendInvites(ctx context.Context, poolID uuid.UUID, contacts []string) error
}

type ManagerParams struct {
	Store      Store
	Locker     locks.Locker
	Events     outbox.Publisher
	Settlement settlement.Ledger
	Sender     Sender
	Logger     *logger.Logger
	Metrics    *metrics.EngineMetrics
	// MinimumFraction of TargetQuantity a pool needs at its deadline; zero means
	// the lowest price tier breakpoint.
	MinimumFraction decimal.Decimal
	Now             func() time.Time
}

// Manager owns the pool lifecycle. Every mutation runs under the pool's lock and
// saves through the store's compare-and-swap; events and settlement calls go out
// after the lock is released.
type Manager struct {
	store           Store
	locker          locks.Locker
	events          outbox.Publisher
	settlement      settlement.Ledger
	sender          Sender
	logg            *logger.Logger
	metrics         *metrics.EngineMetrics
	minimumFraction decimal.Decimal
	now             func() time.Time
}

func NewManager(params ManagerParams) (*Manager, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("pool store required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if params.MinimumFraction.IsNegative() || params.MinimumFraction.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("minimum fraction must be between 0 and 1")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:           params.Store,
		locker:          params.Locker,
		events:          params.Events,
		settlement:      params.Settlement,
		sender:          params.Sender,
		logg:            params.Logger,
		metrics:         params.Metrics,
		minimumFraction: params.MinimumFraction,
		now:             now,
	}, nil
}

type CreateInput struct {
	LeadShopID      uuid.UUID
	SupplierID      uuid.UUID
	Title           string
	TargetQuantity  decimal.Decimal
	MinParticipants int
	MaxParticipants int
	PriceSchedule   types.PriceSchedule
	Deadline        time.Time
	// LeadQuantity, when positive, commits the lead shop on creation.
	LeadQuantity decimal.Decimal
}

func (m *Manager) Create(ctx context.Context, input CreateInput) (pool *models.Pool, err error) {
	defer func() { m.observe("create", err) }()

	now := m.now()
	if err := validateCreate(input, now); err != nil {
		return nil, err
	}

	pool = &models.Pool{
		ID:                uuid.New(),
		LeadShopID:        input.LeadShopID,
		SupplierID:        input.SupplierID,
		Title:             strings.TrimSpace(input.Title),
		TargetQuantity:    input.TargetQuantity,
		CurrentCommitment: decimal.Zero,
		MinParticipants:   input.MinParticipants,
		MaxParticipants:   input.MaxParticipants,
		PriceSchedule:     input.PriceSchedule,
		Deadline:          input.Deadline.UTC(),
		Status:            enums.PoolStatusOpen,
		Version:           1,
	}
	if input.LeadQuantity.IsPositive() {
		if _, err := LedgerFor(pool).Commit(input.LeadShopID, input.LeadQuantity, now); err != nil {
			return nil, err
		}
	}
	if err := m.store.CreatePool(ctx, pool); err != nil {
		return nil, err
	}
	m.metrics.ObserveTransition(aggregateName, string(pool.Status))
	m.publish(ctx, poolCreatedEvent(pool, now))
	return pool.Clone(), nil
}

func validateCreate(input CreateInput, now time.Time) error {
	switch {
	case input.LeadShopID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "lead shop id is required")
	case input.SupplierID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "supplier id is required")
	case !input.TargetQuantity.IsPositive():
		return pkgerrors.New(pkgerrors.CodeValidation, "target quantity must be greater than zero")
	case !types.WithinQuantityLimit(input.TargetQuantity):
		return errAmountOutOfRange("target quantity")
	case input.MinParticipants < 1:
		return pkgerrors.New(pkgerrors.CodeValidation, "min participants must be at least 1")
	case input.MaxParticipants < input.MinParticipants:
		return pkgerrors.New(pkgerrors.CodeValidation, "max participants must be at least min participants")
	case !input.Deadline.After(now):
		return pkgerrors.New(pkgerrors.CodeValidation, "deadline must be in the future")
	case input.LeadQuantity.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "lead quantity must not be negative")
	case input.LeadQuantity.GreaterThan(input.TargetQuantity):
		return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonPoolFull, "lead quantity exceeds target quantity")
	}
	return validateSchedule(input.PriceSchedule)
}

func validateSchedule(schedule types.PriceSchedule) error {
	if len(schedule.Tiers) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one price tier is required")
	}
	seen := make(map[string]struct{}, len(schedule.Tiers))
	for _, tier := range schedule.Tiers {
		if !tier.MinQuantity.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "price tier breakpoints must be greater than zero")
		}
		if !types.WithinQuantityLimit(tier.MinQuantity) {
			return errAmountOutOfRange("price tier breakpoint")
		}
		if tier.UnitPriceCents < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "price tier unit price must not be negative")
		}
		if tier.UnitPriceCents > types.MaxUnitCents {
			return errAmountOutOfRange("price tier unit price")
		}
		key := tier.MinQuantity.String()
		if _, dup := seen[key]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "price tier breakpoints must be unique")
		}
		seen[key] = struct{}{}
	}
	if schedule.IndividualUnitPriceCents < 0 || schedule.ShippingCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "prices must not be negative")
	}
	if schedule.IndividualUnitPriceCents > types.MaxUnitCents || schedule.ShippingCents > types.MaxUnitCents {
		return errAmountOutOfRange("individual unit price and shipping")
	}
	if !schedule.ShippingMode.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid shipping mode")
	}
	return nil
}

func (m *Manager) Join(ctx context.Context, poolID, shopID uuid.UUID, quantity decimal.Decimal) (pool *models.Pool, err error) {
	defer func() { m.observe("join", err) }()
	if shopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}

	now := m.now()
	pool, _, err = m.mutate(ctx, poolID, func(pool *models.Pool) (bool, error) {
		if pool.Status != enums.PoolStatusOpen {
			return false, errPoolClosed(pool.Status)
		}
		if now.After(pool.Deadline) {
			return false, errDeadlinePassed()
		}
		if !quantity.IsPositive() {
			return false, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
		}
		ledger := LedgerFor(pool)
		if ledger.Has(shopID) {
			return false, errDuplicateParticipant(shopID)
		}
		if ledger.ActiveCount() >= pool.MaxParticipants {
			return false, errPoolFull("max_participants")
		}
		if pool.CurrentCommitment.Add(quantity).GreaterThan(pool.TargetQuantity) {
			return false, errPoolFull("target_quantity")
		}
		if _, err := ledger.Commit(shopID, quantity, now); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, membershipEvent(enums.EventPoolJoined, pool, shopID, quantity, now))
	return pool, nil
}

func (m *Manager) Leave(ctx context.Context, poolID, shopID uuid.UUID) (pool *models.Pool, err error) {
	defer func() { m.observe("leave", err) }()

	now := m.now()
	var withdrawn models.PoolParticipant
	pool, _, err = m.mutate(ctx, poolID, func(pool *models.Pool) (bool, error) {
		switch pool.Status {
		case enums.PoolStatusConfirmed, enums.PoolStatusCompleted:
			return false, errPoolLocked(pool.Status)
		case enums.PoolStatusPending, enums.PoolStatusCancelled:
			return false, errPoolClosed(pool.Status)
		}
		if now.After(pool.Deadline) {
			return false, errDeadlinePassed()
		}
		participant, err := LedgerFor(pool).Withdraw(shopID, now)
		if err != nil {
			return false, err
		}
		withdrawn = participant
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, membershipEvent(enums.EventPoolLeft, pool, shopID, withdrawn.CommittedQuantity, now))
	return pool, nil
}

// EvaluationResult reports the outcome of a deadline evaluation.
type EvaluationResult struct {
	Pool    *models.Pool `json:"pool"`
	Changed bool         `json:"changed"`
}

// EvaluateDeadline moves an open pool past its deadline to pending or cancelled.
// It is a no-op before the deadline and for any pool that is no longer open.
func (m *Manager) EvaluateDeadline(ctx context.Context, poolID uuid.UUID) (result *EvaluationResult, err error) {
	defer func() { m.observe("evaluate_deadline", err) }()

	now := m.now()
	pool, changed, err := m.mutate(ctx, poolID, func(pool *models.Pool) (bool, error) {
		if pool.Status != enums.PoolStatusOpen || now.Before(pool.Deadline) {
			return false, nil
		}
		ledger := LedgerFor(pool)
		if pool.CurrentCommitment.GreaterThanOrEqual(m.threshold(pool)) && ledger.ActiveCount() >= pool.MinParticipants {
			pool.Status = enums.PoolStatusPending
			return true, nil
		}
		ledger.WithdrawAll(now)
		reason := CancelReasonDeadlineNotMet
		cancelledAt := now
		pool.Status = enums.PoolStatusCancelled
		pool.CancelReason = &reason
		pool.CancelledAt = &cancelledAt
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.metrics.ObserveTransition(aggregateName, string(pool.Status))
		m.publish(ctx, lifecycleEvent(pool, now))
	}
	return &EvaluationResult{Pool: pool, Changed: changed}, nil
}

// threshold is the commitment a pool must reach by its deadline.
func (m *Manager) threshold(pool *models.Pool) decimal.Decimal {
	if m.minimumFraction.IsPositive() {
		return pool.TargetQuantity.Mul(m.minimumFraction)
	}
	return pool.PriceSchedule.LowestBreakpoint()
}

func (m *Manager) Confirm(ctx context.Context, poolID uuid.UUID) (pool *models.Pool, err error) {
	defer func() { m.observe("confirm", err) }()

	now := m.now()
	var alloc allocation.Result
	pool, _, err = m.mutate(ctx, poolID, func(pool *models.Pool) (bool, error) {
		if pool.Status != enums.PoolStatusPending {
			return false, errInvalidTransition(pool.Status, enums.PoolStatusConfirmed)
		}
		if pool.CurrentCommitment.LessThan(pool.PriceSchedule.LowestBreakpoint()) {
			return false, errBelowMinimumTier()
		}
		ledger := LedgerFor(pool)
		result, err := allocation.Allocate(pool.PriceSchedule, ledger.AllocationInput())
		if err != nil {
			return false, err
		}
		ledger.ApplyShares(result.Shares)
		alloc = result
		confirmedAt := now
		pool.Status = enums.PoolStatusConfirmed
		pool.ConfirmedAt = &confirmedAt
		return true, nil
	})
	if err != nil {
		if pkgerrors.HasReason(err, pkgerrors.ReasonNoApplicablePriceTier) {
			m.logError(m.poolCtx(ctx, poolID), "pool.confirm.allocation_fault", err)
		}
		return nil, err
	}

	m.metrics.ObserveTransition(aggregateName, string(pool.Status))
	m.recordDues(ctx, pool, alloc)
	m.publish(ctx, confirmedEvent(pool, alloc, now))
	return pool, nil
}

// recordDues runs outside the pool lock. Failures are logged; dues can be
// re-recorded through the settlement endpoints since RecordDue is an upsert.
func (m *Manager) recordDues(ctx context.Context, pool *models.Pool, alloc allocation.Result) {
	if m.settlement == nil {
		return
	}
	dues := make([]settlement.Due, 0, len(alloc.Shares))
	for _, share := range alloc.Shares {
		dues = append(dues, settlement.Due{ShopID: share.ShopID, AmountCents: share.CostShareCents})
	}
	if err := m.settlement.RecordDues(ctx, settlement.PoolRef(pool.ID), dues); err != nil {
		m.logError(m.poolCtx(ctx, pool.ID), "pool.confirm.record_dues_failed", err)
		m.metrics.ObserveDispatchFailure(aggregateName, "record_dues")
		m.publish(ctx, settlement.DuesFailedEvent(settlement.PoolRef(pool.ID), dues, err, m.now()))
	}
}

func (m *Manager) Cancel(ctx context.Context, poolID uuid.UUID, reason string) (pool *models.Pool, err error) {
	defer func() { m.observe("cancel", err) }()

	now := m.now()
	reason = strings.TrimSpace(reason)
	pool, _, err = m.mutate(ctx, poolID, func(pool *models.Pool) (bool, error) {
		switch pool.Status {
		case enums.PoolStatusOpen, enums.PoolStatusPending:
		case enums.PoolStatusConfirmed:
			if pool.RunRefs > 0 {
				return false, errPoolLocked(pool.Status)
			}
		default:
			return false, errPoolClosed(pool.Status)
		}
		LedgerFor(pool).WithdrawAll(now)
		cancelledAt := now
		pool.Status = enums.PoolStatusCancelled
		pool.CancelReason = &reason
		pool.CancelledAt = &cancelledAt
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.ObserveTransition(aggregateName, string(pool.Status))
	m.publish(ctx, lifecycleEvent(pool, now))
	return pool, nil
}

// Complete closes a confirmed pool once every participant has paid.
func (m *Manager) Complete(ctx context.Context, poolID uuid.UUID) (pool *models.Pool, err error) {
	defer func() { m.observe("complete", err) }()

	if m.settlement != nil {
		settled, err := m.settlement.IsFullySettled(ctx, settlement.PoolRef(poolID))
		if err != nil {
			return nil, err
		}
		if !settled {
			return nil, errSettlementOutstanding()
		}
	}

	now := m.now()
	pool, _, err = m.mutate(ctx, poolID, func(pool *models.Pool) (bool, error) {
		if pool.Status != enums.PoolStatusConfirmed {
			return false, errInvalidTransition(pool.Status, enums.PoolStatusCompleted)
		}
		completedAt := now
		pool.Status = enums.PoolStatusCompleted
		pool.CompletedAt = &completedAt
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.ObserveTransition(aggregateName, string(pool.Status))
	m.publish(ctx, lifecycleEvent(pool, now))
	return pool, nil
}

// AttachRun records that a delivery run carries goods from this pool. A pool with
// attached runs can no longer be cancelled. shopID must be an active participant.
func (m *Manager) AttachRun(ctx context.Context, poolID, shopID uuid.UUID) (err error) {
	defer func() { m.observe("attach_run", err) }()
	_, _, err = m.mutate(ctx, poolID, func(pool *models.Pool) (bool, error) {
		if pool.Status != enums.PoolStatusConfirmed {
			return false, errPoolNotConfirmed(pool.Status)
		}
		if !slices.ContainsFunc(LedgerFor(pool).Active(), func(p models.PoolParticipant) bool { return p.ShopID == shopID }) {
			return false, errParticipantNotFound(shopID)
		}
		pool.RunRefs++
		return true, nil
	})
	return err
}

func (m *Manager) DetachRun(ctx context.Context, poolID uuid.UUID) (err error) {
	defer func() { m.observe("detach_run", err) }()
	_, _, err = m.mutate(ctx, poolID, func(pool *models.Pool) (bool, error) {
		if pool.RunRefs == 0 {
			return false, nil
		}
		pool.RunRefs--
		return true, nil
	})
	return err
}

// RecordSettled marks a participant paid once their pool settlement record settles.
func (m *Manager) RecordSettled(ctx context.Context, record models.SettlementRecord) error {
	if record.ReferenceKind != enums.SettlementKindPool {
		return nil
	}
	paidAt := m.now()
	if record.SettledAt != nil {
		paidAt = *record.SettledAt
	}
	_, _, err := m.mutate(ctx, record.ReferenceID, func(pool *models.Pool) (bool, error) {
		for i := range pool.Participants {
			participant := &pool.Participants[i]
			if participant.ShopID != record.ShopID || !participant.IsActive() || participant.IsPaid {
				continue
			}
			at := paidAt
			participant.IsPaid = true
			participant.PaidAt = &at
			return true, nil
		}
		return false, nil
	})
	return err
}

func (m *Manager) Get(ctx context.Context, poolID uuid.UUID) (*models.Pool, error) {
	return m.store.GetPool(ctx, poolID)
}

// ListParams filters and pages the pool list.
type ListParams struct {
	Status     *enums.PoolStatus
	SupplierID *uuid.UUID
	ShopID     *uuid.UUID
	Limit      int
	Cursor     string
}

type ListResult struct {
	Items  []models.Pool `json:"items"`
	Cursor string        `json:"cursor"`
}

func (m *Manager) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query := listQuery{
		Status:     params.Status,
		SupplierID: params.SupplierID,
		ShopID:     params.ShopID,
		Limit:      params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseToken(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := m.store.ListPools(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pools")
	}
	cursor := ""
	if next != nil {
		cursor = next.Token()
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

// ListDueForEvaluation returns ids of open pools whose deadline has passed.
func (m *Manager) ListDueForEvaluation(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return m.store.ListDueForEvaluation(ctx, m.now(), limit)
}

// Invite hands the pool id and contacts to the notification sender. The pool
// must still be open.
func (m *Manager) Invite(ctx context.Context, poolID uuid.UUID, contacts []string) (err error) {
	defer func() { m.observe("invite", err) }()
	if m.sender == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "notification sender not configured")
	}
	cleaned := make([]string, 0, len(contacts))
	seen := make(map[string]struct{}, len(contacts))
	for _, contact := range contacts {
		contact = strings.TrimSpace(contact)
		if contact == "" {
			continue
		}
		if _, dup := seen[contact]; dup {
			continue
		}
		seen[contact] = struct{}{}
		cleaned = append(cleaned, contact)
	}
	if len(cleaned) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one contact is required")
	}

	pool, err := m.store.GetPool(ctx, poolID)
	if err != nil {
		return err
	}
	if pool.Status != enums.PoolStatusOpen {
		return errPoolClosed(pool.Status)
	}
	return m.sender.SendInvites(ctx, poolID, cleaned)
}

// mutate loads the pool under its lock, applies fn to a private copy, checks the
// commitment invariant and saves. The lock is released before returning.
func (m *Manager) mutate(ctx context.Context, poolID uuid.UUID, fn func(pool *models.Pool) (bool, error)) (*models.Pool, bool, error) {
	release, err := m.locker.Acquire(ctx, locks.PoolKey(poolID))
	if err != nil {
		return nil, false, err
	}
	defer release()

	current, err := m.store.GetPool(ctx, poolID)
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
	if err := LedgerFor(working).Verify(); err != nil {
		m.logError(m.poolCtx(ctx, poolID), "pool.invariant_violated", err)
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "pool commitment invariant violated")
	}
	if err := m.store.SavePool(ctx, working); err != nil {
		return nil, false, err
	}
	return working.Clone(), true, nil
}

func (m *Manager) publish(ctx context.Context, events ...outbox.DomainEvent) {
	if m.events == nil || len(events) == 0 {
		return
	}
	if err := m.events.Publish(ctx, events...); err != nil {
		m.logError(ctx, "pool.publish_failed", err)
	}
}

func (m *Manager) observe(operation string, err error) {
	m.metrics.ObserveOperation(aggregateName, operation, outcome(err))
}

func (m *Manager) poolCtx(ctx context.Context, poolID uuid.UUID) context.Context {
	if m.logg == nil {
		return ctx
	}
	return m.logg.WithPoolID(ctx, poolID.String())
}

func (m *Manager) logError(ctx context.Context, msg string, err error) {
	if m.logg == nil {
		return
	}
	m.logg.Error(ctx, msg, err)
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
