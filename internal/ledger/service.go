package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/internal/settlement"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

// Service defines operations that record ledger events.
type Service interface {
	RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	HasEvent(ctx context.Context, kind enums.SettlementKind, referenceID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
	PostSettlement(ctx context.Context, posting settlement.Posting) error
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	ReferenceKind       enums.SettlementKind  `json:"reference_kind"`
	ReferenceID         uuid.UUID             `json:"reference_id"`
	Type                enums.LedgerEventType `json:"type"`
	TotalDueCents       int64                 `json:"total_due_cents"`
	TotalCollectedCents int64                 `json:"total_collected_cents"`
	Metadata            json.RawMessage       `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if !input.ReferenceKind.IsValid() {
		return nil, fmt.Errorf("invalid reference kind %q", input.ReferenceKind)
	}
	if input.ReferenceID == uuid.Nil {
		return nil, fmt.Errorf("reference id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.TotalDueCents < 0 || input.TotalCollectedCents < 0 {
		return nil, fmt.Errorf("ledger totals must not be negative")
	}

	event := &models.LedgerEvent{
		ReferenceKind:       input.ReferenceKind,
		ReferenceID:         input.ReferenceID,
		Type:                input.Type,
		TotalDueCents:       input.TotalDueCents,
		TotalCollectedCents: input.TotalCollectedCents,
		Metadata:            input.Metadata,
	}

	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) HasEvent(ctx context.Context, kind enums.SettlementKind, referenceID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	if referenceID == uuid.Nil {
		return false, fmt.Errorf("reference id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid ledger event type %q", eventType)
	}

	return s.repo.Exists(ctx, kind, referenceID, eventType)
}

// PostSettlement records the settled totals once per reference.
func (s *service) PostSettlement(ctx context.Context, posting settlement.Posting) error {
	exists, err := s.HasEvent(ctx, posting.Reference.Kind, posting.Reference.ID, enums.LedgerEventTypeSettlementPosted)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	metadata, err := json.Marshal(map[string]any{"reference": posting.Reference.String()})
	if err != nil {
		return err
	}
	_, err = s.RecordEvent(ctx, RecordLedgerEventInput{
		ReferenceKind:       posting.Reference.Kind,
		ReferenceID:         posting.Reference.ID,
		Type:                enums.LedgerEventTypeSettlementPosted,
		TotalDueCents:       posting.TotalDueCents,
		TotalCollectedCents: posting.TotalCollectedCents,
		Metadata:            metadata,
	})
	return err
}
