package settlement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
)

type recordKey struct {
	ref    Reference
	shopID uuid.UUID
}

// MemoryStore keeps settlement records in process, for tests and single-node dev runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]models.SettlementRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]models.SettlementRecord)}
}

func (m *MemoryStore) Find(_ context.Context, ref Reference, shopID uuid.UUID) (*models.SettlementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[recordKey{ref: ref, shopID: shopID}]
	if !ok {
		return nil, errSettlementNotFound(ref, shopID)
	}
	return copyRecord(record), nil
}

func (m *MemoryStore) ListByReference(_ context.Context, ref Reference) ([]models.SettlementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SettlementRecord, 0)
	for key, record := range m.records {
		if key.ref == ref {
			out = append(out, *copyRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ShopID.String() < out[j].ShopID.String()
	})
	return out, nil
}

func (m *MemoryStore) Create(_ context.Context, record *models.SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := keyOf(record)
	if _, exists := m.records[key]; exists {
		return pkgerrors.VersionConflict("settlement record")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Version == 0 {
		record.Version = 1
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	m.records[key] = *copyRecord(*record)
	return nil
}

func (m *MemoryStore) Save(_ context.Context, record *models.SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := keyOf(record)
	current, ok := m.records[key]
	if !ok {
		return errSettlementNotFound(key.ref, record.ShopID)
	}
	if current.Version != record.Version {
		return pkgerrors.VersionConflict("settlement record")
	}
	record.Version++
	record.UpdatedAt = time.Now().UTC()
	m.records[key] = *copyRecord(*record)
	return nil
}

// SaveBatch checks every write before applying any of them.
func (m *MemoryStore) SaveBatch(_ context.Context, creates, updates []*models.SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range creates {
		if _, exists := m.records[keyOf(record)]; exists {
			return pkgerrors.VersionConflict("settlement record")
		}
	}
	for _, record := range updates {
		current, ok := m.records[keyOf(record)]
		if !ok {
			return errSettlementNotFound(keyOf(record).ref, record.ShopID)
		}
		if current.Version != record.Version {
			return pkgerrors.VersionConflict("settlement record")
		}
	}

	now := time.Now().UTC()
	for _, record := range creates {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		if record.Version == 0 {
			record.Version = 1
		}
		record.CreatedAt = now
		record.UpdatedAt = now
		m.records[keyOf(record)] = *copyRecord(*record)
	}
	for _, record := range updates {
		record.Version++
		record.UpdatedAt = now
		m.records[keyOf(record)] = *copyRecord(*record)
	}
	return nil
}

func keyOf(record *models.SettlementRecord) recordKey {
	return recordKey{ref: Reference{Kind: record.ReferenceKind, ID: record.ReferenceID}, shopID: record.ShopID}
}

func copyRecord(record models.SettlementRecord) *models.SettlementRecord {
	cp := record
	if record.SettledAt != nil {
		at := *record.SettledAt
		cp.SettledAt = &at
	}
	return &cp
}
