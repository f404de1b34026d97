package runs

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/internal/settlement"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/locks"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/payloads"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...outbox.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) count(eventType enums.OutboxEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

type stubLinker struct {
	mu       sync.Mutex
	refs     map[uuid.UUID]int
	rejected map[uuid.UUID]bool
	// members restricts a pool to the listed shops; pools without an entry accept any shop.
	members map[uuid.UUID][]uuid.UUID
}

func newStubLinker() *stubLinker {
	return &stubLinker{refs: map[uuid.UUID]int{}, rejected: map[uuid.UUID]bool{}, members: map[uuid.UUID][]uuid.UUID{}}
}

func (s *stubLinker) AttachRun(ctx context.Context, poolID, shopID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejected[poolID] {
		return pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonPoolNotConfirmed, "pool is not confirmed")
	}
	if members, ok := s.members[poolID]; ok && !slices.Contains(members, shopID) {
		return pkgerrors.Rejection(pkgerrors.CodeNotFound, pkgerrors.ReasonParticipantNotFound, "shop is not an active participant")
	}
	s.refs[poolID]++
	return nil
}

func (s *stubLinker) DetachRun(ctx context.Context, poolID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[poolID] > 0 {
		s.refs[poolID]--
	}
	return nil
}

func (s *stubLinker) refsFor(poolID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[poolID]
}

type harness struct {
	consolidator *Consolidator
	settlement   *settlement.Service
	linker       *stubLinker
	events       *recordingPublisher
	now          time.Time
}

func newHarness(t *testing.T) harness {
	t.Helper()
	now := time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	locker := locks.NewLocal(2 * time.Second)
	ledger, err := settlement.NewService(settlement.ServiceParams{
		Store:  settlement.NewMemoryStore(),
		Locker: locker,
		Now:    clock,
	})
	if err != nil {
		t.Fatalf("settlement: %v", err)
	}
	linker := newStubLinker()
	events := &recordingPublisher{}
	consolidator, err := NewConsolidator(ConsolidatorParams{
		Store:      NewMemoryStore(),
		Locker:     locker,
		Pools:      linker,
		Settlement: ledger,
		Events:     events,
		Now:        clock,
	})
	if err != nil {
		t.Fatalf("consolidator: %v", err)
	}
	return harness{consolidator: consolidator, settlement: ledger, linker: linker, events: events, now: now}
}

func kg(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func (h harness) createRun(t *testing.T, capacity int64, fixed int64, mode enums.SplitMode) uuid.UUID {
	t.Helper()
	run, err := h.consolidator.CreateRun(context.Background(), CreateRunInput{
		Zone:           "north-east",
		ScheduledDate:  h.now.Add(24 * time.Hour),
		CapacityWeight: kg(capacity),
		CapacityVolume: kg(100),
		FixedCostCents: fixed,
		SplitMode:      mode,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run.ID
}

func (h harness) addStop(t *testing.T, runID uuid.UUID, weight int64) *models.DeliveryStop {
	t.Helper()
	_, stop, err := h.consolidator.AddStop(context.Background(), runID, StopInput{
		ShopID: uuid.New(),
		Weight: kg(weight),
		Volume: kg(10),
	})
	if err != nil {
		t.Fatalf("add stop: %v", err)
	}
	return stop
}

func shares(run *models.SharedRun) []int64 {
	out := make([]int64, len(run.Stops))
	for i, stop := range run.Stops {
		out[i] = stop.CostShareCents
	}
	return out
}

func assertShares(t *testing.T, run *models.SharedRun, want ...int64) {
	t.Helper()
	got := shares(run)
	if len(got) != len(want) {
		t.Fatalf("expected %d shares, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected shares %v, got %v", want, got)
		}
	}
}

func TestScenarioCapacityAdmissionRecomputesShares(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	runID := h.createRun(t, 500, 10001, enums.SplitModeWeight)
	h.addStop(t, runID, 300)
	h.addStop(t, runID, 180)

	run, err := h.consolidator.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	assertShares(t, run, 6251, 3750)

	_, _, err = h.consolidator.AddStop(ctx, runID, StopInput{ShopID: uuid.New(), Weight: kg(30), Volume: kg(10)})
	if !pkgerrors.HasReason(err, pkgerrors.ReasonCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}

	run, stop, err := h.consolidator.AddStop(ctx, runID, StopInput{ShopID: uuid.New(), Weight: kg(20), Volume: kg(10)})
	if err != nil {
		t.Fatalf("add 20kg stop: %v", err)
	}
	if stop.Sequence != 3 {
		t.Fatalf("expected sequence 3, got %d", stop.Sequence)
	}
	if !run.UsedWeight.Equal(kg(500)) {
		t.Fatalf("expected used weight 500, got %s", run.UsedWeight)
	}
	assertShares(t, run, 6001, 3600, 400)
	if h.events.count(enums.EventRunStopAdded) != 3 {
		t.Fatalf("expected 3 stop added events")
	}
}

func TestVolumeCapacityIsEnforced(t *testing.T) {
	h := newHarness(t)
	runID := h.createRun(t, 500, 1000, enums.SplitModeFlat)
	_, _, err := h.consolidator.AddStop(context.Background(), runID, StopInput{ShopID: uuid.New(), Weight: kg(1), Volume: kg(101)})
	if !pkgerrors.HasReason(err, pkgerrors.ReasonCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}
	typed := pkgerrors.As(err)
	if details, ok := typed.Details().(map[string]any); !ok || details["dimension"] != "volume" {
		t.Fatalf("expected volume dimension, got %v", typed.Details())
	}
}

func TestRemoveStopResequencesAndRecomputes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	runID := h.createRun(t, 500, 900, enums.SplitModeFlat)
	h.addStop(t, runID, 10)
	middle := h.addStop(t, runID, 20)
	h.addStop(t, runID, 30)

	run, err := h.consolidator.RemoveStop(ctx, runID, middle.ID, "shop closed")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(run.Stops) != 2 || run.Stops[0].Sequence != 1 || run.Stops[1].Sequence != 2 {
		t.Fatalf("expected contiguous sequences, got %+v", run.Stops)
	}
	assertShares(t, run, 450, 450)
	if !run.UsedWeight.Equal(kg(40)) {
		t.Fatalf("expected used weight 40, got %s", run.UsedWeight)
	}

	_, err = h.consolidator.RemoveStop(ctx, runID, middle.ID, "")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFlatSplitRemainderGoesToHeaviestStop(t *testing.T) {
	h := newHarness(t)
	runID := h.createRun(t, 500, 1000, enums.SplitModeFlat)
	h.addStop(t, runID, 10)
	h.addStop(t, runID, 40)
	h.addStop(t, runID, 40)

	run, err := h.consolidator.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	assertShares(t, run, 333, 334, 333)
}

func TestReorderStopsKeepsShares(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	runID := h.createRun(t, 500, 1001, enums.SplitModeWeight)
	first := h.addStop(t, runID, 50)
	second := h.addStop(t, runID, 50)

	run, err := h.consolidator.ReorderStops(ctx, runID, []uuid.UUID{second.ID, first.ID})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if run.Stops[0].ID != second.ID || run.Stops[0].Sequence != 1 {
		t.Fatalf("expected second stop first, got %+v", run.Stops)
	}
	if run.Stops[1].CostShareCents != 501 || run.Stops[0].CostShareCents != 500 {
		t.Fatalf("expected shares unchanged, got %v", shares(run))
	}

	_, err = h.consolidator.ReorderStops(ctx, runID, []uuid.UUID{first.ID, first.ID})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartRecordsRunDuesAndLocksRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	emptyID := h.createRun(t, 500, 1000, enums.SplitModeWeight)
	if _, err := h.consolidator.Start(ctx, emptyID); !pkgerrors.HasReason(err, pkgerrors.ReasonEmptyRun) {
		t.Fatalf("expected empty run, got %v", err)
	}

	runID := h.createRun(t, 500, 1000, enums.SplitModeWeight)
	h.addStop(t, runID, 75)
	h.addStop(t, runID, 25)
	if _, err := h.consolidator.AssignDriver(ctx, runID, uuid.New()); err != nil {
		t.Fatalf("assign driver: %v", err)
	}

	run, err := h.consolidator.Start(ctx, runID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != enums.RunStatusOutForDelivery || run.StartedAt == nil {
		t.Fatalf("expected run out for delivery, got %s", run.Status)
	}
	for _, stop := range run.Stops {
		if stop.Status != enums.StopStatusOutForDelivery {
			t.Fatalf("expected stop out for delivery, got %s", stop.Status)
		}
	}

	snapshot, err := h.settlement.Snapshot(ctx, settlement.RunRef(runID))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.TotalDueCents != 1000 || len(snapshot.Records) != 2 {
		t.Fatalf("expected two dues totalling 1000, got %+v", snapshot)
	}

	_, _, err = h.consolidator.AddStop(ctx, runID, StopInput{ShopID: uuid.New(), Weight: kg(1)})
	if !pkgerrors.HasReason(err, pkgerrors.ReasonRunLocked) {
		t.Fatalf("expected run locked, got %v", err)
	}
	if _, err := h.consolidator.Cancel(ctx, runID, "weather"); !pkgerrors.HasReason(err, pkgerrors.ReasonRunLocked) {
		t.Fatalf("expected run locked on cancel, got %v", err)
	}
}

func TestDeliveryOutcomesAndCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	runID := h.createRun(t, 500, 1000, enums.SplitModeWeight)
	first := h.addStop(t, runID, 60)
	second := h.addStop(t, runID, 40)

	if _, err := h.consolidator.RecordDelivery(ctx, first.ID, enums.DeliveryOutcomeDelivered, ""); !pkgerrors.HasReason(err, pkgerrors.ReasonStopNotActive) {
		t.Fatalf("expected stop not active before start, got %v", err)
	}
	if _, err := h.consolidator.Complete(ctx, runID); !pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := h.consolidator.Start(ctx, runID); err != nil {
		t.Fatalf("start: %v", err)
	}

	stop, err := h.consolidator.RecordDelivery(ctx, first.ID, enums.DeliveryOutcomeDelivered, "signed by J. Ortiz")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if stop.Status != enums.StopStatusDelivered || stop.DeliveredAt == nil || stop.ProofOfDelivery == nil {
		t.Fatalf("expected delivered stop with proof, got %+v", stop)
	}
	if _, err := h.consolidator.Complete(ctx, runID); !pkgerrors.HasReason(err, pkgerrors.ReasonStopsOutstanding) {
		t.Fatalf("expected stops outstanding, got %v", err)
	}
	if _, err := h.consolidator.RecordDelivery(ctx, first.ID, enums.DeliveryOutcomeFailed, ""); !pkgerrors.HasReason(err, pkgerrors.ReasonStopNotActive) {
		t.Fatalf("expected repeated outcome rejected, got %v", err)
	}
	if _, err := h.consolidator.RecordDelivery(ctx, second.ID, enums.DeliveryOutcomeFailed, ""); err != nil {
		t.Fatalf("fail stop: %v", err)
	}

	run, err := h.consolidator.Complete(ctx, runID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if run.Status != enums.RunStatusCompleted || run.CompletedAt == nil {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if h.events.count(enums.EventStopDelivered) != 1 || h.events.count(enums.EventStopFailed) != 1 {
		t.Fatalf("expected one delivered and one failed event")
	}
	if _, err := h.consolidator.RecordDelivery(ctx, uuid.New(), enums.DeliveryOutcomeDelivered, ""); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected unknown stop not found, got %v", err)
	}
}

func TestPoolStopsAttachAndDetach(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	runID := h.createRun(t, 100, 1000, enums.SplitModeWeight)
	poolID := uuid.New()

	_, stop, err := h.consolidator.AddStop(ctx, runID, StopInput{ShopID: uuid.New(), PoolID: &poolID, Weight: kg(60), Volume: kg(1)})
	if err != nil {
		t.Fatalf("add pool stop: %v", err)
	}
	if h.linker.refsFor(poolID) != 1 {
		t.Fatalf("expected pool attached once, got %d", h.linker.refsFor(poolID))
	}

	// Rejected on capacity, so the attach is rolled back.
	_, _, err = h.consolidator.AddStop(ctx, runID, StopInput{ShopID: uuid.New(), PoolID: &poolID, Weight: kg(60), Volume: kg(1)})
	if !pkgerrors.HasReason(err, pkgerrors.ReasonCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}
	if h.linker.refsFor(poolID) != 1 {
		t.Fatalf("expected compensation detach, got %d refs", h.linker.refsFor(poolID))
	}

	memberPool, member := uuid.New(), uuid.New()
	h.linker.members[memberPool] = []uuid.UUID{member}
	_, _, err = h.consolidator.AddStop(ctx, runID, StopInput{ShopID: uuid.New(), PoolID: &memberPool, Weight: kg(1)})
	if !pkgerrors.HasReason(err, pkgerrors.ReasonParticipantNotFound) {
		t.Fatalf("expected outsider shop to be rejected, got %v", err)
	}
	if h.linker.refsFor(memberPool) != 0 {
		t.Fatalf("outsider stop must not attach, got %d refs", h.linker.refsFor(memberPool))
	}
	run, err := h.consolidator.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if len(run.Stops) != 1 {
		t.Fatalf("outsider stop must not be added, got %d stops", len(run.Stops))
	}

	openPool := uuid.New()
	h.linker.rejected[openPool] = true
	_, _, err = h.consolidator.AddStop(ctx, runID, StopInput{ShopID: uuid.New(), PoolID: &openPool, Weight: kg(1)})
	if !pkgerrors.HasReason(err, pkgerrors.ReasonPoolNotConfirmed) {
		t.Fatalf("expected pool not confirmed, got %v", err)
	}

	if _, err := h.consolidator.RemoveStop(ctx, runID, stop.ID, ""); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if h.linker.refsFor(poolID) != 0 {
		t.Fatalf("expected pool detached on remove, got %d", h.linker.refsFor(poolID))
	}

	if _, _, err := h.consolidator.AddStop(ctx, runID, StopInput{ShopID: uuid.New(), PoolID: &poolID, Weight: kg(10)}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	run, err = h.consolidator.Cancel(ctx, runID, "vehicle unavailable")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if run.Status != enums.RunStatusCancelled || run.CancelReason == nil || *run.CancelReason != "vehicle unavailable" {
		t.Fatalf("expected cancelled run with reason, got %+v", run)
	}
	if h.linker.refsFor(poolID) != 0 {
		t.Fatalf("expected pool detached on cancel, got %d", h.linker.refsFor(poolID))
	}
}

func TestConcurrentAddStopsNeverExceedCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	runID := h.createRun(t, 100, 1000, enums.SplitModeWeight)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.consolidator.AddStop(ctx, runID, StopInput{ShopID: uuid.New(), Weight: kg(10), Volume: kg(1)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case pkgerrors.HasReason(err, pkgerrors.ReasonCapacityExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 10 || rejected != 6 {
		t.Fatalf("expected 10 accepted and 6 rejected, got %d and %d", accepted, rejected)
	}
	run, err := h.consolidator.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := Verify(run); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestCreateRunValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := CreateRunInput{
		Zone:           "south",
		ScheduledDate:  h.now,
		CapacityWeight: kg(10),
		CapacityVolume: kg(10),
		FixedCostCents: 100,
		SplitMode:      enums.SplitModeWeight,
	}

	cases := map[string]func(in *CreateRunInput){
		"blank zone":       func(in *CreateRunInput) { in.Zone = " " },
		"zero capacity":    func(in *CreateRunInput) { in.CapacityWeight = decimal.Zero },
		"negative cost":    func(in *CreateRunInput) { in.FixedCostCents = -1 },
		"unknown split":    func(in *CreateRunInput) { in.SplitMode = "volume" },
		"missing schedule": func(in *CreateRunInput) { in.ScheduledDate = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			if _, err := h.consolidator.CreateRun(ctx, in); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestCostBreakdown(t *testing.T) {
	h := newHarness(t)
	runID := h.createRun(t, 500, 999, enums.SplitModeWeight)
	h.addStop(t, runID, 1)
	h.addStop(t, runID, 2)

	breakdown, err := h.consolidator.CostBreakdown(context.Background(), runID)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if !breakdown.TotalWeight.Equal(kg(3)) || len(breakdown.Stops) != 2 {
		t.Fatalf("unexpected breakdown %+v", breakdown)
	}
	var sum int64
	for _, line := range breakdown.Stops {
		sum += line.CostShareCents
	}
	if sum != 999 || breakdown.Stops[0].CostShareCents != 333 || breakdown.Stops[1].CostShareCents != 666 {
		t.Fatalf("unexpected shares %+v", breakdown.Stops)
	}
}

func TestRunForStop(t *testing.T) {
	h := newHarness(t)
	runID := h.createRun(t, 500, 100, enums.SplitModeFlat)
	stop := h.addStop(t, runID, 5)

	run, err := h.consolidator.RunForStop(context.Background(), stop.ID)
	if err != nil {
		t.Fatalf("run for stop: %v", err)
	}
	if run.ID != runID {
		t.Fatalf("expected run %s, got %s", runID, run.ID)
	}
	_, err = h.consolidator.RunForStop(context.Background(), uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown stop, got %v", err)
	}
}

type failingLedger struct {
	settlement.Ledger
}

func (failingLedger) RecordDues(ctx context.Context, ref settlement.Reference, dues []settlement.Due) error {
	return errors.New("ledger unavailable")
}

func TestStartPublishesDuesFailedEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	consolidator, err := NewConsolidator(ConsolidatorParams{
		Store:      NewMemoryStore(),
		Locker:     locks.NewLocal(2 * time.Second),
		Pools:      h.linker,
		Settlement: failingLedger{Ledger: h.settlement},
		Events:     h.events,
		Now:        func() time.Time { return h.now },
	})
	if err != nil {
		t.Fatalf("consolidator: %v", err)
	}
	h.consolidator = consolidator

	runID := h.createRun(t, 500, 1000, enums.SplitModeWeight)
	h.addStop(t, runID, 75)
	h.addStop(t, runID, 25)
	run, err := consolidator.Start(ctx, runID)
	if err != nil {
		t.Fatalf("start must succeed when dues cannot be recorded: %v", err)
	}
	if run.Status != enums.RunStatusOutForDelivery {
		t.Fatalf("expected run out for delivery, got %s", run.Status)
	}

	if h.events.count(enums.EventSettlementDuesFailed) != 1 {
		t.Fatalf("expected one dues failed event")
	}
	for _, event := range h.events.events {
		if event.EventType != enums.EventSettlementDuesFailed {
			continue
		}
		data, ok := event.Data.(payloads.SettlementDuesFailedEvent)
		if !ok {
			t.Fatalf("unexpected payload %T", event.Data)
		}
		if event.AggregateID != runID || data.ReferenceKind != enums.SettlementKindRun || !data.FailedAt.Equal(h.now) {
			t.Fatalf("unexpected event %+v", data)
		}
		if len(data.Dues) != 2 || data.Dues[0].AmountCents+data.Dues[1].AmountCents != 1000 {
			t.Fatalf("unexpected dues %+v", data.Dues)
		}
	}
}
