package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It backs the test suite and single-shot
// CLI invocations that don't need persistence across processes.
type Memory struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	entities map[string]*Entity
}

func NewMemory() *Memory {
	return &Memory{
		runs:     make(map[string]*Run),
		entities: make(map[string]*Entity),
	}
}

func (m *Memory) CreateRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	copied := *run
	copied.Errors = append([]string{}, run.Errors...)
	m.runs[run.ID] = &copied
	return nil
}

func (m *Memory) UpdateRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *run
	copied.Errors = append([]string{}, run.Errors...)
	m.runs[run.ID] = &copied
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if run, ok := m.runs[id]; ok {
		copied := *run
		return &copied, nil
	}
	return nil, nil
}

func (m *Memory) LastErrorFreeRun(ctx context.Context, sourceID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []*Run
	for _, run := range m.runs {
		if run.SourceID != sourceID || run.Type != RunTypeHarvest {
			continue
		}
		if run.Status != RunStatusFinished || len(run.Errors) > 0 {
			continue
		}
		if m.runHasEntityErrors(run.ID) {
			continue
		}
		candidates = append(candidates, run)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].GatherStarted.After(candidates[j].GatherStarted)
	})
	copied := *candidates[0]
	return &copied, nil
}

func (m *Memory) runHasEntityErrors(runID string) bool {
	for _, entity := range m.entities {
		if entity.RunID == runID && len(entity.Errors) > 0 {
			return true
		}
	}
	return false
}

func (m *Memory) AddRunError(ctx context.Context, runID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run, ok := m.runs[runID]; ok {
		run.Errors = append(run.Errors, message)
	}
	return nil
}

func (m *Memory) CreateEntity(ctx context.Context, entity *Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if entity.Created.IsZero() {
		entity.Created = time.Now().UTC()
	}
	m.entities[entity.ID] = copyEntity(entity)
	return nil
}

func (m *Memory) UpdateEntity(ctx context.Context, entity *Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entities[entity.ID] = copyEntity(entity)
	return nil
}

func (m *Memory) DeleteEntity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entities, id)
	return nil
}

func (m *Memory) GetEntity(ctx context.Context, id string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if entity, ok := m.entities[id]; ok {
		return copyEntity(entity), nil
	}
	return nil, nil
}

func (m *Memory) CurrentEntities(ctx context.Context, sourceID string) ([]*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entities []*Entity
	for _, entity := range m.entities {
		if entity.SourceID == sourceID && entity.Current {
			entities = append(entities, copyEntity(entity))
		}
	}
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].GUID < entities[j].GUID
	})
	return entities, nil
}

func (m *Memory) CurrentEntityForGUID(ctx context.Context, sourceID string, guid string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entity := range m.entities {
		if entity.SourceID == sourceID && entity.GUID == guid && entity.Current {
			return copyEntity(entity), nil
		}
	}
	return nil, nil
}

func (m *Memory) RetireEntities(ctx context.Context, sourceID string, guid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entity := range m.entities {
		if entity.SourceID == sourceID && entity.GUID == guid {
			entity.Current = false
		}
	}
	return nil
}

func (m *Memory) AddEntityError(ctx context.Context, entityID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entity, ok := m.entities[entityID]; ok {
		entity.Errors = append(entity.Errors, message)
	}
	return nil
}

func (m *Memory) EntityForDataset(ctx context.Context, datasetID string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Entity
	for _, entity := range m.entities {
		if entity.DatasetID != datasetID {
			continue
		}
		if latest == nil || entity.Created.After(latest.Created) {
			latest = entity
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyEntity(latest), nil
}

func copyEntity(entity *Entity) *Entity {
	copied := *entity
	copied.Errors = append([]string{}, entity.Errors...)
	if entity.Extras != nil {
		copied.Extras = make(map[string]string, len(entity.Extras))
		for key, value := range entity.Extras {
			copied.Extras[key] = value
		}
	}
	return &copied
}
