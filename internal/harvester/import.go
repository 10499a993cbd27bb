package harvester

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/catalog"
	"github.com/berlinonline/fisbroker-harvester/internal/iso"
	"github.com/berlinonline/fisbroker-harvester/internal/store"
	"github.com/berlinonline/fisbroker-harvester/internal/transform"
)

// Outcome classifies the result of importing one entity.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeFailed    Outcome = "failed"
)

var metadataDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseMetadataDate(value string) (time.Time, error) {
	for _, layout := range metadataDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// Import drives one entity through delete, create or update against the
// catalog. Failures are object-level: they are recorded on the entity and
// never abort the surrounding run. When force is set (reimport), the
// unchanged short-circuit is bypassed and history is not churned.
func (h *Harvester) Import(ctx context.Context, entity *store.Entity, force bool) Outcome {
	h.logger.Debug("import stage", zap.String("object", entity.ID), zap.String("guid", entity.GUID))

	status := entity.Status
	if force {
		status = store.StatusChange
	}

	if status == store.StatusDelete {
		if err := h.catalog.Delete(ctx, entity.DatasetID); err != nil {
			h.objectError(ctx, entity, fmt.Sprintf("Error deleting package %s: %v", entity.DatasetID, err))
			return OutcomeFailed
		}
		h.logger.Info("deleted package",
			zap.String("package", entity.DatasetID),
			zap.String("guid", entity.GUID))
		return OutcomeDeleted
	}

	if entity.Content == "" {
		h.objectError(ctx, entity, fmt.Sprintf("Empty content for object %s", entity.ID))
		return OutcomeFailed
	}

	previous, err := h.store.CurrentEntityForGUID(ctx, h.source.ID, entity.GUID)
	if err != nil {
		h.objectError(ctx, entity, fmt.Sprintf("Error loading previous object: %v", err))
		return OutcomeFailed
	}

	values, err := iso.Parse([]byte(entity.Content))
	if err != nil {
		h.objectError(ctx, entity, fmt.Sprintf("Error parsing ISO document for object %s: %v", entity.ID, err))
		return OutcomeFailed
	}

	// Adopt the document's own GUID when it drifted from the gathered one,
	// unless another current object already holds it.
	if values.GUID != "" && values.GUID != entity.GUID {
		existing, err := h.store.CurrentEntityForGUID(ctx, h.source.ID, values.GUID)
		if err != nil {
			h.objectError(ctx, entity, fmt.Sprintf("Error checking guid %s: %v", values.GUID, err))
			return OutcomeFailed
		}
		if existing != nil {
			h.objectError(ctx, entity, fmt.Sprintf("Object %s already has this guid %s", existing.ID, values.GUID))
			return OutcomeFailed
		}
		entity.GUID = values.GUID
	}

	// Manual imports may carry no identifier anywhere. Derive one from the
	// content so the object is still addressable.
	if entity.GUID == "" {
		sum := md5.Sum([]byte(entity.Content))
		entity.GUID = hex.EncodeToString(sum[:])
	}
	values.GUID = entity.GUID

	modified, err := parseMetadataDate(values.MetadataDate)
	if err != nil {
		h.objectError(ctx, entity,
			fmt.Sprintf("Could not extract reference date for object %s (%s)", entity.ID, values.MetadataDate))
		return OutcomeFailed
	}
	entity.MetadataModified = modified

	dataset, skip := h.transformer.Transform(values, transform.Skeleton(values))
	if skip != nil {
		h.logger.Info("skipping import",
			zap.String("object", entity.ID),
			zap.Int("code", skip.Code),
			zap.String("reason", skip.Description))
		reason, _ := json.Marshal(skip)
		entity.SetExtra(store.ExtraError, string(reason))
		if err := h.store.UpdateEntity(ctx, entity); err != nil {
			h.objectError(ctx, entity, fmt.Sprintf("Error saving object %s: %v", entity.ID, err))
			return OutcomeFailed
		}
		return OutcomeSkipped
	}

	// Name collisions happen when the remote guid churned but the derived
	// name did not. Update the package holding the name instead of tripping
	// over catalog validation.
	if status == store.StatusNew {
		existing, err := h.catalog.GetByName(ctx, dataset.Name)
		if err != nil {
			h.objectError(ctx, entity, fmt.Sprintf("Error looking up package %s: %v", dataset.Name, err))
			return OutcomeFailed
		}
		if existing != nil {
			h.logger.Info("package with same name exists, changing it instead",
				zap.String("name", dataset.Name),
				zap.String("guid", entity.GUID))
			status = store.StatusChange
			entity.DatasetID = existing.ID
		}
	}

	// The opposite direction: the linked package was purged independently
	// of the harvester, so there is nothing left to update.
	if status == store.StatusChange {
		target, err := h.resolveTarget(ctx, entity, dataset.Name)
		if err != nil {
			h.objectError(ctx, entity, fmt.Sprintf("Error resolving package for object %s: %v", entity.ID, err))
			return OutcomeFailed
		}
		if target == nil {
			h.logger.Info("no package for guid, creating a new one",
				zap.String("name", dataset.Name),
				zap.String("guid", entity.GUID))
			status = store.StatusNew
			entity.DatasetID = ""
		} else {
			entity.DatasetID = target.ID
			return h.updateDataset(ctx, entity, previous, target, &dataset, force)
		}
	}

	return h.createDataset(ctx, entity, previous, &dataset, force)
}

func (h *Harvester) resolveTarget(ctx context.Context, entity *store.Entity, name string) (*catalog.Dataset, error) {
	if entity.DatasetID != "" {
		target, err := h.catalog.Get(ctx, entity.DatasetID)
		if err != nil || target != nil {
			return target, err
		}
	}
	return h.catalog.GetByName(ctx, name)
}

func (h *Harvester) createDataset(ctx context.Context, entity *store.Entity, previous *store.Entity, dataset *catalog.Dataset, force bool) Outcome {
	// Pre-assign the id so downstream systems can link back to the package
	// before indexing completes.
	dataset.ID = uuid.NewString()
	entity.DatasetID = dataset.ID

	if _, err := h.catalog.Create(ctx, dataset); err != nil {
		var validation *catalog.ValidationError
		if errors.As(err, &validation) {
			h.objectError(ctx, entity, fmt.Sprintf("Validation Error: %s", validation.Summary))
		} else {
			h.objectError(ctx, entity, fmt.Sprintf("Error creating package: %v", err))
		}
		return OutcomeFailed
	}
	h.logger.Info("created new package",
		zap.String("package", dataset.ID),
		zap.String("guid", entity.GUID))

	if !h.commit(ctx, entity, previous, force) {
		return OutcomeFailed
	}
	return OutcomeCreated
}

func (h *Harvester) updateDataset(ctx context.Context, entity *store.Entity, previous *store.Entity, target *catalog.Dataset, dataset *catalog.Dataset, force bool) Outcome {
	// Remote state takes precedence over a local deletion.
	if target.State == catalog.StateDeleted {
		h.logger.Info("package was deleted, activating it again", zap.String("name", target.Name))
		target.State = catalog.StateActive
		if _, err := h.catalog.Update(ctx, target); err != nil {
			h.objectError(ctx, entity, fmt.Sprintf("Error reactivating package %s: %v", target.ID, err))
			return OutcomeFailed
		}
	}

	if !force && previous != nil && !entity.MetadataModified.After(previous.MetadataModified) {
		entity.Current = true
		if err := h.store.UpdateEntity(ctx, entity); err != nil {
			h.objectError(ctx, entity, fmt.Sprintf("Error saving object %s: %v", entity.ID, err))
			return OutcomeFailed
		}
		// The previous object is now redundant history.
		if err := h.store.DeleteEntity(ctx, previous.ID); err != nil {
			h.objectError(ctx, entity, fmt.Sprintf("Error deleting previous object %s: %v", previous.ID, err))
			return OutcomeFailed
		}
		// Reindex so search documents reference the now-current object.
		if h.source.ShouldReindexUnchanged() && entity.DatasetID != "" {
			if err := h.catalog.Reindex(ctx, entity.DatasetID); err != nil {
				h.logger.Warn("reindexing unchanged package",
					zap.String("package", entity.DatasetID), zap.Error(err))
			}
		}
		h.logger.Info("document unchanged, skipping", zap.String("guid", entity.GUID))
		return OutcomeUnchanged
	}

	dataset.ID = entity.DatasetID
	if _, err := h.catalog.Update(ctx, dataset); err != nil {
		var validation *catalog.ValidationError
		if errors.As(err, &validation) {
			h.objectError(ctx, entity, fmt.Sprintf("Validation Error: %s", validation.Summary))
		} else {
			h.objectError(ctx, entity, fmt.Sprintf("Error updating package %s: %v", entity.DatasetID, err))
		}
		return OutcomeFailed
	}
	h.logger.Info("updated package",
		zap.String("package", entity.DatasetID),
		zap.String("guid", entity.GUID))

	if !h.commit(ctx, entity, previous, force) {
		return OutcomeFailed
	}
	return OutcomeUpdated
}

// commit marks the entity current, then retires the previous one. The
// ordering tolerates a transient window with two current objects but never
// one with zero. Forced reimports leave the previous object alone to avoid
// churning history.
func (h *Harvester) commit(ctx context.Context, entity *store.Entity, previous *store.Entity, force bool) bool {
	entity.Current = true
	if err := h.store.UpdateEntity(ctx, entity); err != nil {
		h.objectError(ctx, entity, fmt.Sprintf("Error saving object %s: %v", entity.ID, err))
		return false
	}
	if previous != nil && previous.ID != entity.ID && !force {
		previous.Current = false
		if err := h.store.UpdateEntity(ctx, previous); err != nil {
			h.objectError(ctx, entity, fmt.Sprintf("Error retiring previous object %s: %v", previous.ID, err))
			return false
		}
	}
	return true
}
