package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Memory is an in-process Service implementation. It backs the test suite and
// the CLI's dry-run mode; a production deployment plugs in a real catalog.
type Memory struct {
	logger *zap.Logger

	mu        sync.RWMutex
	datasets  map[string]*Dataset
	reindexed map[string]int
}

type MemoryOption func(*Memory)

func WithLogger(logger *zap.Logger) MemoryOption {
	return func(m *Memory) {
		m.logger = logger
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		logger:    zap.NewNop(),
		datasets:  make(map[string]*Dataset),
		reindexed: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Create(ctx context.Context, dataset *Dataset) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dataset.Name == "" {
		return "", &ValidationError{Summary: "Missing value: name"}
	}
	for _, existing := range m.datasets {
		if existing.Name == dataset.Name {
			return "", &ValidationError{Summary: "That URL is already in use."}
		}
	}
	if dataset.ID == "" {
		dataset.ID = uuid.NewString()
	}
	if dataset.State == "" {
		dataset.State = StateActive
	}

	stored := *dataset
	m.datasets[dataset.ID] = &stored
	m.logger.Debug("dataset created",
		zap.String("id", dataset.ID),
		zap.String("name", dataset.Name))
	return dataset.ID, nil
}

func (m *Memory) Update(ctx context.Context, dataset *Dataset) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.datasets[dataset.ID]
	if !ok {
		return "", &ValidationError{Summary: "Not found: Dataset"}
	}
	if dataset.Name != existing.Name {
		for _, other := range m.datasets {
			if other.ID != dataset.ID && other.Name == dataset.Name {
				return "", &ValidationError{Summary: "That URL is already in use."}
			}
		}
	}
	if dataset.State == "" {
		dataset.State = existing.State
	}

	stored := *dataset
	m.datasets[dataset.ID] = &stored
	m.logger.Debug("dataset updated", zap.String("id", dataset.ID))
	return dataset.ID, nil
}

// Delete deactivates a dataset, mirroring the catalog's soft delete.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dataset, ok := m.datasets[id]; ok {
		dataset.State = StateDeleted
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if dataset, ok := m.datasets[id]; ok {
		copied := *dataset
		return &copied, nil
	}
	return nil, nil
}

func (m *Memory) GetByName(ctx context.Context, name string) (*Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, dataset := range m.datasets {
		if dataset.Name == name {
			copied := *dataset
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *Memory) Reindex(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reindexed[id]++
	return nil
}

// ReindexCount reports how often a dataset was reindexed. Test hook.
func (m *Memory) ReindexCount(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.reindexed[id]
}

// List returns all datasets, active and deleted.
func (m *Memory) List(ctx context.Context) ([]*Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	datasets := make([]*Dataset, 0, len(m.datasets))
	for _, dataset := range m.datasets {
		copied := *dataset
		datasets = append(datasets, &copied)
	}
	return datasets, nil
}
