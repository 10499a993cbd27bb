package harvester

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/catalog"
	"github.com/berlinonline/fisbroker-harvester/internal/csw"
	"github.com/berlinonline/fisbroker-harvester/internal/store"
)

// ReimportResult is the per-package outcome of a reimport batch.
type ReimportResult struct {
	DatasetID string
	GUID      string
	Record    *csw.Record
	Outcome   Outcome
}

// Reimport re-fetches and force-imports a single package. A rejection by
// the transformation rules deactivates the package, since its source record
// no longer passes the import gates.
func (h *Harvester) Reimport(ctx context.Context, datasetID string) (*ReimportResult, error) {
	results, err := h.ReimportBatch(ctx, []string{datasetID})
	if err != nil {
		return nil, err
	}
	return results[datasetID], nil
}

// ReimportBatch re-fetches and force-imports the given packages from the
// harvest source, bypassing the gather stage. All pre-flight checks run
// before any network access and any failure aborts the whole batch with a
// typed error. Records are fetched for every package before any import, so
// a missing record fails the batch without partial catalog mutation.
func (h *Harvester) ReimportBatch(ctx context.Context, datasetIDs []string) (map[string]*ReimportResult, error) {
	type candidate struct {
		dataset *catalog.Dataset
		guid    string
	}

	candidates := make(map[string]candidate, len(datasetIDs))
	for _, datasetID := range datasetIDs {
		dataset, guid, err := h.reimportPreflight(ctx, datasetID)
		if err != nil {
			return nil, err
		}
		candidates[datasetID] = candidate{dataset: dataset, guid: guid}
	}

	run := &store.Run{
		SourceID:      h.source.ID,
		Type:          store.RunTypeReimport,
		Status:        store.RunStatusRunning,
		GatherStarted: h.now(),
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	// finalize the run even when the batch aborts
	defer func() {
		run.Status = store.RunStatusFinished
		run.Finished = h.now()
		if err := h.store.UpdateRun(ctx, run); err != nil {
			h.logger.Error("finalizing reimport run", zap.Error(err))
		}
	}()

	if err := h.csw.Connect(ctx); err != nil {
		return nil, NoConnectionError("", h.csw.Endpoint(), err)
	}

	records := make(map[string]*csw.Record, len(datasetIDs))
	for _, datasetID := range datasetIDs {
		guid := candidates[datasetID].guid
		record, err := h.csw.GetRecordByID(ctx, guid)
		if err != nil {
			return nil, NoConnectionError(datasetID, h.csw.Endpoint(), err)
		}
		if record == nil {
			return nil, NotFoundRemoteError(datasetID, guid)
		}
		records[datasetID] = record
	}

	results := make(map[string]*ReimportResult, len(datasetIDs))
	for _, datasetID := range datasetIDs {
		record := records[datasetID]
		guid := candidates[datasetID].guid

		entity := &store.Entity{
			RunID:     run.ID,
			SourceID:  h.source.ID,
			GUID:      guid,
			DatasetID: candidates[datasetID].dataset.ID,
			Status:    store.StatusChange,
			Content:   strings.TrimSpace(xmlDeclaration.ReplaceAllString(record.XML, "")),
		}
		if err := h.store.CreateEntity(ctx, entity); err != nil {
			return nil, err
		}

		outcome := h.Import(ctx, entity, true)
		if reason, rejected := h.rejectionReason(ctx, entity, outcome); rejected {
			// a record that no longer passes the import rules must not
			// stay live in the catalog
			if err := h.catalog.Delete(ctx, entity.DatasetID); err != nil {
				h.logger.Error("deactivating rejected package",
					zap.String("package", entity.DatasetID), zap.Error(err))
			}
			return nil, ImportRejectedError(datasetID, reason)
		}

		results[datasetID] = &ReimportResult{
			DatasetID: datasetID,
			GUID:      guid,
			Record:    record,
			Outcome:   outcome,
		}
	}

	return results, nil
}

// reimportPreflight verifies a package can be reimported: it exists, was
// created by this harvester, and carries a usable remote GUID.
func (h *Harvester) reimportPreflight(ctx context.Context, datasetID string) (*catalog.Dataset, string, error) {
	dataset, err := h.catalog.Get(ctx, datasetID)
	if err != nil {
		return nil, "", err
	}
	if dataset == nil {
		dataset, err = h.catalog.GetByName(ctx, datasetID)
		if err != nil {
			return nil, "", err
		}
	}
	if dataset == nil {
		return nil, "", NotFoundInCatalogError(datasetID)
	}

	entity, err := h.store.EntityForDataset(ctx, dataset.ID)
	if err != nil {
		return nil, "", err
	}
	if entity == nil {
		return nil, "", NotHarvestedError(datasetID)
	}
	if entity.SourceID != h.source.ID {
		return nil, "", NotHarvestedBySourceError(datasetID, h.source.ID)
	}

	guid := entity.GUID
	if guid == "" {
		guid, _ = dataset.Extra("guid")
	}
	if guid == "" {
		return nil, "", NoGUIDError(datasetID)
	}

	return dataset, guid, nil
}

// rejectionReason reports whether the forced import was rejected and why.
// A rejection is either a skip verdict stored on the entity or an
// object-level import error.
func (h *Harvester) rejectionReason(ctx context.Context, entity *store.Entity, outcome Outcome) (string, bool) {
	switch outcome {
	case OutcomeSkipped:
		stored, err := h.store.GetEntity(ctx, entity.ID)
		if err == nil && stored != nil {
			if reason, ok := stored.Extras[store.ExtraError]; ok {
				return reason, true
			}
		}
		if reason, ok := entity.Extras[store.ExtraError]; ok {
			return reason, true
		}
		return "rejected during import", true
	case OutcomeFailed:
		if len(entity.Errors) > 0 {
			return entity.Errors[len(entity.Errors)-1], true
		}
		return "rejected during import", true
	}
	return "", false
}
