package settlement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/locks"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	"github.com/angelmondragon/packfinderz-pools/pkg/metrics"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/payloads"
)

const aggregateName = "settlement"

// Ledger tracks what each shop owes and has paid against a pool or run.
type Ledger interface {
	RecordDue(ctx context.Context, input DueInput) (*models.SettlementRecord, error)
	RecordDues(ctx context.Context, ref Reference, dues []Due) error
	RecordPayment(ctx context.Context, input PaymentInput) (*PaymentResult, error)
	IsFullySettled(ctx context.Context, ref Reference) (bool, error)
	Snapshot(ctx context.Context, ref Reference) (*Snapshot, error)
}

// SettledListener is told when a single shop's record reaches paid-in-full.
type SettledListener interface {
	RecordSettled(ctx context.Context, record models.SettlementRecord) error
}

type Due struct {
	ShopID      uuid.UUID `json:"shop_id"`
	AmountCents int64     `json:"amount_cents"`
}

type DueInput struct {
	Reference   Reference `json:"reference"`
	ShopID      uuid.UUID `json:"shop_id"`
	AmountCents int64     `json:"amount_cents"`
}

type PaymentInput struct {
	Reference   Reference `json:"reference"`
	ShopID      uuid.UUID `json:"shop_id"`
	AmountCents int64     `json:"amount_cents"`
}

// PaymentResult reports the updated record and whether the whole reference is now settled.
type PaymentResult struct {
	Record            models.SettlementRecord `json:"record"`
	ReferenceSettled  bool                    `json:"reference_settled"`
	RecordJustSettled bool                    `json:"-"`
	ReferenceSnapshot *Snapshot               `json:"-"`
}

// Snapshot is an unlocked read of every record of a reference.
type Snapshot struct {
	Reference           Reference                 `json:"reference"`
	TotalDueCents       int64                     `json:"total_due_cents"`
	TotalCollectedCents int64                     `json:"total_collected_cents"`
	FullySettled        bool                      `json:"fully_settled"`
	Records             []models.SettlementRecord `json:"records"`
}

type ServiceParams struct {
	Store     Store
	Locker    locks.Locker
	Events    outbox.Publisher
	Forwarder *Forwarder
	Logger    *logger.Logger
	Metrics   *metrics.EngineMetrics
	Now       func() time.Time
}

type Service struct {
	store     Store
	locker    locks.Locker
	events    outbox.Publisher
	forwarder *Forwarder
	listeners []SettledListener
	logg      *logger.Logger
	metrics   *metrics.EngineMetrics
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("settlement store required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:     params.Store,
		locker:    params.Locker,
		events:    params.Events,
		forwarder: params.Forwarder,
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       now,
	}, nil
}

// AddListener registers a hook that runs after a record becomes settled.
func (s *Service) AddListener(listener SettledListener) {
	if listener != nil {
		s.listeners = append(s.listeners, listener)
	}
}

func (s *Service) RecordDue(ctx context.Context, input DueInput) (record *models.SettlementRecord, err error) {
	defer func() { s.observe("record_due", err) }()

	due := Due{ShopID: input.ShopID, AmountCents: input.AmountCents}
	if err := validateDues(input.Reference, []Due{due}); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, locks.SettlementKey(string(input.Reference.Kind), input.Reference.ID))
	if err != nil {
		return nil, err
	}
	defer release()
	batch, err := s.planDues(ctx, input.Reference, []Due{due})
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveBatch(ctx, batch.creates, batch.updates); err != nil {
		return nil, err
	}
	return batch.records[0], nil
}

// RecordDues applies every due of one reference under a single lock. All dues
// are checked before anything is written and the writes land together, so a
// rejected batch leaves the reference untouched.
func (s *Service) RecordDues(ctx context.Context, ref Reference, dues []Due) (err error) {
	defer func() { s.observe("record_dues", err) }()

	if err := validateDues(ref, dues); err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx, locks.SettlementKey(string(ref.Kind), ref.ID))
	if err != nil {
		return err
	}
	defer release()
	batch, err := s.planDues(ctx, ref, dues)
	if err != nil {
		return err
	}
	return s.store.SaveBatch(ctx, batch.creates, batch.updates)
}

type dueBatch struct {
	creates []*models.SettlementRecord
	updates []*models.SettlementRecord
	records []*models.SettlementRecord
}

func validateDues(ref Reference, dues []Due) error {
	if err := ref.validate(); err != nil {
		return err
	}
	seen := make(map[uuid.UUID]struct{}, len(dues))
	for _, due := range dues {
		if due.ShopID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
		}
		if due.AmountCents < 0 {
			return errNegativeAmount()
		}
		if _, dup := seen[due.ShopID]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "a shop may appear only once per batch").
				WithDetails(map[string]any{"shop_id": due.ShopID.String()})
		}
		seen[due.ShopID] = struct{}{}
	}
	return nil
}

// planDues must run under the reference lock. It reads the reference once and
// builds the records to create or update without writing anything.
func (s *Service) planDues(ctx context.Context, ref Reference, dues []Due) (*dueBatch, error) {
	current, err := s.store.ListByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	byShop := make(map[uuid.UUID]*models.SettlementRecord, len(current))
	var totalDue int64
	for i := range current {
		byShop[current[i].ShopID] = &current[i]
		totalDue += current[i].AmountDueCents
	}

	now := s.now()
	batch := &dueBatch{}
	for _, due := range dues {
		existing, ok := byShop[due.ShopID]
		if !ok {
			record := &models.SettlementRecord{
				ID:             uuid.New(),
				ReferenceKind:  ref.Kind,
				ReferenceID:    ref.ID,
				ShopID:         due.ShopID,
				AmountDueCents: due.AmountCents,
				Version:        1,
			}
			if due.AmountCents == 0 {
				record.SettledAt = &now
			}
			if totalDue, ok = addCents(totalDue, due.AmountCents); !ok {
				return nil, errTotalOverflow()
			}
			batch.creates = append(batch.creates, record)
			batch.records = append(batch.records, record)
			continue
		}

		if due.AmountCents < existing.AmountPaidCents {
			return nil, pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonDueBelowPaid, "amount due cannot drop below amount already paid").
				WithDetails(map[string]any{"shop_id": due.ShopID.String(), "amount_paid_cents": existing.AmountPaidCents})
		}
		if totalDue, ok = addCents(totalDue-existing.AmountDueCents, due.AmountCents); !ok {
			return nil, errTotalOverflow()
		}
		existing.AmountDueCents = due.AmountCents
		if existing.AmountPaidCents == existing.AmountDueCents {
			if existing.SettledAt == nil {
				existing.SettledAt = &now
			}
		} else {
			existing.SettledAt = nil
		}
		batch.updates = append(batch.updates, existing)
		batch.records = append(batch.records, existing)
	}
	return batch, nil
}

func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (result *PaymentResult, err error) {
	defer func() { s.observe("record_payment", err) }()

	if err := input.Reference.validate(); err != nil {
		return nil, err
	}
	if input.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if input.AmountCents < 0 {
		return nil, errNegativeAmount()
	}

	result, err = s.applyPayment(ctx, input)
	if err != nil {
		return nil, err
	}
	s.afterPayment(ctx, result)
	return result, nil
}

func (s *Service) applyPayment(ctx context.Context, input PaymentInput) (*PaymentResult, error) {
	ref := input.Reference
	release, err := s.locker.Acquire(ctx, locks.SettlementKey(string(ref.Kind), ref.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := s.store.Find(ctx, ref, input.ShopID)
	if err != nil {
		return nil, err
	}
	if input.AmountCents > record.OutstandingCents() {
		return nil, pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonOverpaymentRejected, "payment exceeds amount outstanding").
			WithDetails(map[string]any{"outstanding_cents": record.OutstandingCents()})
	}

	wasSettled := record.SettledAt != nil
	if input.AmountCents > 0 {
		record.AmountPaidCents += input.AmountCents
		if record.AmountPaidCents == record.AmountDueCents && record.SettledAt == nil {
			now := s.now()
			record.SettledAt = &now
		}
		if err := s.store.Save(ctx, record); err != nil {
			return nil, err
		}
	}

	snapshot, err := s.snapshot(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{
		Record:            *record,
		ReferenceSettled:  snapshot.FullySettled,
		RecordJustSettled: !wasSettled && record.SettledAt != nil,
		ReferenceSnapshot: snapshot,
	}, nil
}

// afterPayment runs outside the lock; failures are logged because the payment is already durable.
func (s *Service) afterPayment(ctx context.Context, result *PaymentResult) {
	if !result.RecordJustSettled {
		return
	}
	for _, listener := range s.listeners {
		if err := listener.RecordSettled(ctx, result.Record); err != nil {
			s.logError(ctx, "settlement.listener_failed", err)
		}
	}
	if !result.ReferenceSettled {
		return
	}
	snapshot := result.ReferenceSnapshot
	if s.forwarder != nil {
		if err := s.forwarder.Forward(ctx, *snapshot); err != nil {
			s.logError(ctx, "settlement.forward_failed", err)
		}
	}
	if s.events != nil {
		event := outbox.DomainEvent{
			EventType:     enums.EventSettlementSettled,
			AggregateType: enums.AggregateSettlement,
			AggregateID:   snapshot.Reference.ID,
			Actor:         outbox.SystemActor("settlement"),
			Once:          true,
			Data: payloads.SettlementSettledEvent{
				ReferenceKind:       snapshot.Reference.Kind,
				ReferenceID:         snapshot.Reference.ID,
				TotalDueCents:       snapshot.TotalDueCents,
				TotalCollectedCents: snapshot.TotalCollectedCents,
				SettledAt:           s.now(),
			},
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logError(ctx, "settlement.publish_failed", err)
		}
	}
}

// DuesFailedEvent describes dues a caller could not record, so they can be
// replayed later.
func DuesFailedEvent(ref Reference, dues []Due, cause error, at time.Time) outbox.DomainEvent {
	lines := make([]payloads.DueLine, 0, len(dues))
	for _, due := range dues {
		lines = append(lines, payloads.DueLine{ShopID: due.ShopID, AmountCents: due.AmountCents})
	}
	return outbox.DomainEvent{
		EventType:     enums.EventSettlementDuesFailed,
		AggregateType: enums.AggregateSettlement,
		AggregateID:   ref.ID,
		Actor:         outbox.SystemActor("settlement"),
		Data: payloads.SettlementDuesFailedEvent{
			ReferenceKind: ref.Kind,
			ReferenceID:   ref.ID,
			Dues:          lines,
			Error:         cause.Error(),
			FailedAt:      at,
		},
	}
}

func (s *Service) IsFullySettled(ctx context.Context, ref Reference) (bool, error) {
	snapshot, err := s.Snapshot(ctx, ref)
	if err != nil {
		return false, err
	}
	return snapshot.FullySettled, nil
}

func (s *Service) Snapshot(ctx context.Context, ref Reference) (*Snapshot, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	return s.snapshot(ctx, ref)
}

func (s *Service) snapshot(ctx context.Context, ref Reference) (*Snapshot, error) {
	records, err := s.store.ListByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{Reference: ref, Records: records, FullySettled: len(records) > 0}
	for _, record := range records {
		snapshot.TotalDueCents += record.AmountDueCents
		snapshot.TotalCollectedCents += record.AmountPaidCents
		if record.SettledAt == nil {
			snapshot.FullySettled = false
		}
	}
	return snapshot, nil
}

func (s *Service) observe(operation string, err error) {
	s.metrics.ObserveOperation(aggregateName, operation, outcome(err))
}

func (s *Service) logError(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(ctx, msg, err)
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

// addCents reports false when a+b does not fit in an int64. Both are non-negative.
func addCents(a, b int64) (int64, bool) {
	if b > math.MaxInt64-a {
		return 0, false
	}
	return a + b, true
}

func errTotalOverflow() error {
	return pkgerrors.Rejection(pkgerrors.CodeValidation, pkgerrors.ReasonAmountOutOfRange, "reference total exceeds the supported amount range")
}

func errNegativeAmount() error {
	return pkgerrors.Rejection(pkgerrors.CodeValidation, pkgerrors.ReasonNegativeAmount, "amount must not be negative")
}
