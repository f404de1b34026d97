package pools

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/pagination"
)

// MemoryStore is an in-process arena of pools keyed by id.
type MemoryStore struct {
	mu    sync.RWMutex
	pools map[uuid.UUID]*models.Pool
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools: make(map[uuid.UUID]*models.Pool),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) CreatePool(_ context.Context, pool *models.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool.ID == uuid.Nil {
		pool.ID = uuid.New()
	}
	if _, exists := m.pools[pool.ID]; exists {
		return pkgerrors.VersionConflict("pool")
	}
	if pool.Version == 0 {
		pool.Version = 1
	}
	now := m.now()
	pool.CreatedAt = now
	pool.UpdatedAt = now
	for i := range pool.Participants {
		pool.Participants[i].PoolID = pool.ID
	}
	m.pools[pool.ID] = pool.Clone()
	return nil
}

func (m *MemoryStore) GetPool(_ context.Context, id uuid.UUID) (*models.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pool, ok := m.pools[id]
	if !ok {
		return nil, errPoolNotFound(id)
	}
	return pool.Clone(), nil
}

func (m *MemoryStore) SavePool(_ context.Context, pool *models.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.pools[pool.ID]
	if !ok {
		return errPoolNotFound(pool.ID)
	}
	if current.Version != pool.Version {
		return pkgerrors.VersionConflict("pool")
	}
	pool.Version++
	pool.UpdatedAt = m.now()
	m.pools[pool.ID] = pool.Clone()
	return nil
}

func (m *MemoryStore) ListPools(_ context.Context, query listQuery) ([]models.Pool, *pagination.Cursor, error) {
	m.mu.RLock()
	rows := make([]models.Pool, 0, len(m.pools))
	for _, pool := range m.pools {
		if !matches(pool, query) {
			continue
		}
		rows = append(rows, *pool.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID.String() > rows[j].ID.String()
	})
	rows, next := pagination.Trim(rows, query.Limit, func(p models.Pool) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return rows, next, nil
}

func (m *MemoryStore) ListDueForEvaluation(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.RLock()
	due := make([]*models.Pool, 0)
	for _, pool := range m.pools {
		if pool.Status == enums.PoolStatusOpen && !pool.Deadline.After(now) {
			due = append(due, pool)
		}
	}
	m.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].Deadline.Before(due[j].Deadline) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, pool := range due {
		ids = append(ids, pool.ID)
	}
	return ids, nil
}

func matches(pool *models.Pool, query listQuery) bool {
	if query.Status != nil && pool.Status != *query.Status {
		return false
	}
	if query.SupplierID != nil && pool.SupplierID != *query.SupplierID {
		return false
	}
	if query.ShopID != nil && !LedgerFor(pool).Has(*query.ShopID) {
		return false
	}
	return query.Cursor == nil || query.Cursor.After(pool.CreatedAt, pool.ID)
}
