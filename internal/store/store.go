// Package store persists harvest runs and per-record processing entities.
package store

import (
	"context"
	"time"
)

// Entity status tags.
const (
	StatusNew    = "new"
	StatusChange = "change"
	StatusDelete = "delete"
)

// Run types. Reimport runs are excluded when resolving the last error-free
// run, since they are partial by construction.
const (
	RunTypeHarvest  = "harvest"
	RunTypeReimport = "reimport"
)

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)

// ExtraError is the entity extra under which skip/rejection reasons are
// stored, JSON-encoded as {code, description}.
const ExtraError = "error"

// Run is one reconciliation pass over a harvest source.
type Run struct {
	ID            string
	SourceID      string
	Type          string
	Status        string
	GatherStarted time.Time
	Finished      time.Time
	Errors        []string
}

// Entity is one unit of work for one remote identifier within one run.
type Entity struct {
	ID               string
	RunID            string
	SourceID         string
	GUID             string
	DatasetID        string
	Status           string
	Content          string
	Current          bool
	MetadataModified time.Time
	Extras           map[string]string
	Errors           []string
	Created          time.Time
}

// SetExtra records a key/value annotation on the entity.
func (e *Entity) SetExtra(key, value string) {
	if e.Extras == nil {
		e.Extras = make(map[string]string)
	}
	e.Extras[key] = value
}

// Store is the job store collaborator. Lookups return (nil, nil) when
// nothing matches.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// LastErrorFreeRun returns the most recent finished harvest run for the
	// source with zero run-level and zero entity-level errors.
	LastErrorFreeRun(ctx context.Context, sourceID string) (*Run, error)
	AddRunError(ctx context.Context, runID string, message string) error

	CreateEntity(ctx context.Context, entity *Entity) error
	UpdateEntity(ctx context.Context, entity *Entity) error
	DeleteEntity(ctx context.Context, id string) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	// CurrentEntities returns all current entities for the source.
	CurrentEntities(ctx context.Context, sourceID string) ([]*Entity, error)
	CurrentEntityForGUID(ctx context.Context, sourceID string, guid string) (*Entity, error)
	// RetireEntities marks every entity for the identifier as no longer
	// current.
	RetireEntities(ctx context.Context, sourceID string, guid string) error
	AddEntityError(ctx context.Context, entityID string, message string) error
	// EntityForDataset returns the most recent entity linked to the
	// dataset, used by the reimport pre-flight checks.
	EntityForDataset(ctx context.Context, datasetID string) (*Entity, error)
}
