package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Dataset states as used by the catalog. A deleted dataset is deactivated,
// not purged; it can be reactivated by a later harvest run.
const (
	StateActive  = "active"
	StateDeleted = "deleted"
)

// Extra is one key/value annotation on a dataset.
type Extra struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Resource is one artifact reference within a dataset.
type Resource struct {
	URL              string `json:"url"`
	Name             string `json:"name,omitempty"`
	Description      string `json:"description,omitempty"`
	Format           string `json:"format,omitempty"`
	InternalFunction string `json:"internal_function,omitempty"`
	Weight           int    `json:"weight,omitempty"`
	Main             bool   `json:"main,omitempty"`
}

// Dataset is a normalized catalog record.
type Dataset struct {
	ID              string     `json:"id,omitempty"`
	Name            string     `json:"name"`
	Title           string     `json:"title"`
	Notes           string     `json:"notes,omitempty"`
	Author          string     `json:"author,omitempty"`
	Maintainer      string     `json:"maintainer,omitempty"`
	MaintainerEmail string     `json:"maintainer_email,omitempty"`
	LicenseID       string     `json:"license_id,omitempty"`
	URL             string     `json:"url,omitempty"`
	State           string     `json:"state,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Groups          []string   `json:"groups,omitempty"`
	Resources       []Resource `json:"resources,omitempty"`
	Extras          []Extra    `json:"extras,omitempty"`
}

// Extra returns the value of the extra with the given key. Key comparison is
// case-insensitive, matching how GUIDs are looked up on harvested datasets.
func (d *Dataset) Extra(key string) (string, bool) {
	for _, extra := range d.Extras {
		if strings.EqualFold(extra.Key, key) {
			return extra.Value, true
		}
	}
	return "", false
}

// ValidationError is raised by the catalog when a dataset fails its schema.
type ValidationError struct {
	Summary string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Summary)
}

// Service is the catalog collaborator the harvester writes to. Get and
// GetByName return (nil, nil) when no dataset exists.
type Service interface {
	Create(ctx context.Context, dataset *Dataset) (string, error)
	Update(ctx context.Context, dataset *Dataset) (string, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Dataset, error)
	GetByName(ctx context.Context, name string) (*Dataset, error)
	Reindex(ctx context.Context, id string) error
}
