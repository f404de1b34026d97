package runs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
)

// MemoryStore is an in-process arena of runs keyed by id.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]*models.SharedRun
	stopTo map[uuid.UUID]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[uuid.UUID]*models.SharedRun),
		stopTo: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *MemoryStore) CreateRun(_ context.Context, run *models.SharedRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if _, exists := m.runs[run.ID]; exists {
		return pkgerrors.VersionConflict("run")
	}
	if run.Version == 0 {
		run.Version = 1
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	m.runs[run.ID] = run.Clone()
	m.index(run)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*models.SharedRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, errRunNotFound(id)
	}
	return run.Clone(), nil
}

func (m *MemoryStore) SaveRun(_ context.Context, run *models.SharedRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.runs[run.ID]
	if !ok {
		return errRunNotFound(run.ID)
	}
	if current.Version != run.Version {
		return pkgerrors.VersionConflict("run")
	}
	for _, stop := range current.Stops {
		delete(m.stopTo, stop.ID)
	}
	run.Version++
	run.UpdatedAt = time.Now().UTC()
	m.runs[run.ID] = run.Clone()
	m.index(run)
	return nil
}

func (m *MemoryStore) RunIDForStop(_ context.Context, stopID uuid.UUID) (uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runID, ok := m.stopTo[stopID]
	if !ok {
		return uuid.Nil, errStopNotFound(stopID)
	}
	return runID, nil
}

func (m *MemoryStore) index(run *models.SharedRun) {
	for _, stop := range run.Stops {
		m.stopTo[stop.ID] = run.ID
	}
}
