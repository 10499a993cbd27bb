package harvester

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/config"
	"github.com/berlinonline/fisbroker-harvester/internal/csw"
	"github.com/berlinonline/fisbroker-harvester/internal/store"
)

// Gather reconciles the remote identifier set against the locally known
// records and creates one processing entity per unit of work, tagged
// new, change or delete. Gather-level failures are recorded on the run
// and abort before any entities exist.
func (h *Harvester) Gather(ctx context.Context, run *store.Run) ([]*store.Entity, error) {
	run.GatherStarted = h.now()
	if err := h.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	if err := h.csw.Connect(ctx); err != nil {
		return nil, h.gatherError(ctx, run, fmt.Sprintf("Error contacting the CSW server: %v", err))
	}

	locals, err := h.store.CurrentEntities(ctx, h.source.ID)
	if err != nil {
		return nil, h.gatherError(ctx, run, fmt.Sprintf("Error loading current objects: %v", err))
	}
	localIndex := make(map[string]string, len(locals))
	for _, entity := range locals {
		localIndex[entity.GUID] = entity.DatasetID
	}

	constraints, err := h.constraints(ctx)
	if err != nil {
		return nil, h.gatherError(ctx, run, err.Error())
	}

	h.logger.Debug("starting gathering (constrained)",
		zap.String("url", h.csw.Endpoint()),
		zap.String("modified_since", constraints.ModifiedSince))
	constrained, err := h.identifierSet(ctx, constraints)
	if err != nil {
		return nil, h.gatherError(ctx, run,
			fmt.Sprintf("Error gathering the identifiers from the CSW server [%v]", err))
	}

	// A date-constrained query cannot observe remote deletions, so a
	// second, unconstrained pass establishes the complete set.
	complete := constrained
	if constraints.ModifiedSince != "" {
		h.logger.Debug("starting gathering (unconstrained)", zap.String("url", h.csw.Endpoint()))
		complete, err = h.identifierSet(ctx, csw.Constraints{CQL: h.source.CQL})
		if err != nil {
			return nil, h.gatherError(ctx, run,
				fmt.Sprintf("Error gathering the identifiers from the CSW server [%v]", err))
		}
	}

	newGUIDs := difference(constrained, localIndex)
	deleteGUIDs := missingLocals(localIndex, complete)
	changeGUIDs := intersection(constrained, localIndex)

	h.logger.Debug("reconciled identifier sets",
		zap.Int("new", len(newGUIDs)),
		zap.Int("delete", len(deleteGUIDs)),
		zap.Int("change", len(changeGUIDs)))

	var entities []*store.Entity
	for _, guid := range newGUIDs {
		entities = append(entities, &store.Entity{
			RunID:    run.ID,
			SourceID: h.source.ID,
			GUID:     guid,
			Status:   store.StatusNew,
		})
	}
	for _, guid := range changeGUIDs {
		entities = append(entities, &store.Entity{
			RunID:     run.ID,
			SourceID:  h.source.ID,
			GUID:      guid,
			DatasetID: localIndex[guid],
			Status:    store.StatusChange,
		})
	}
	for _, guid := range deleteGUIDs {
		if err := h.store.RetireEntities(ctx, h.source.ID, guid); err != nil {
			return nil, h.gatherError(ctx, run, fmt.Sprintf("Error retiring objects for guid %s: %v", guid, err))
		}
		entities = append(entities, &store.Entity{
			RunID:     run.ID,
			SourceID:  h.source.ID,
			GUID:      guid,
			DatasetID: localIndex[guid],
			Status:    store.StatusDelete,
		})
	}

	if len(entities) == 0 {
		return nil, h.gatherError(ctx, run, "No records received from the CSW server")
	}

	for _, entity := range entities {
		if err := h.store.CreateEntity(ctx, entity); err != nil {
			return nil, h.gatherError(ctx, run, fmt.Sprintf("Error saving object for guid %s: %v", entity.GUID, err))
		}
	}

	return entities, nil
}

func (h *Harvester) identifierSet(ctx context.Context, constraints csw.Constraints) (map[string]bool, error) {
	identifiers, err := h.csw.ListIdentifiers(ctx, constraints)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(identifiers))
	for _, identifier := range identifiers {
		set[identifier] = true
	}
	return set, nil
}

// constraints resolves the import_since setting into a GetRecords
// constraint. big_bang and absence mean a full rescan; last_error_free
// resolves to the gather time of the most recent clean harvest run, shifted
// by the configured timezone offset.
func (h *Harvester) constraints(ctx context.Context) (csw.Constraints, error) {
	constraints := csw.Constraints{CQL: h.source.CQL}

	switch h.source.ImportSince {
	case "", config.ImportSinceBigBang:
		return constraints, nil
	case config.ImportSinceLastErrorFree:
		run, err := h.store.LastErrorFreeRun(ctx, h.source.ID)
		if err != nil {
			return constraints, fmt.Errorf("Error looking up last error-free run: %v", err)
		}
		if run == nil {
			h.logger.Debug("no previous error-free run, harvesting unconstrained")
			return constraints, nil
		}
		gatherTime := run.GatherStarted.Add(time.Duration(h.source.Timedelta) * time.Hour)
		constraints.ModifiedSince = gatherTime.Format("2006-01-02T15:04:05")
		return constraints, nil
	default:
		constraints.ModifiedSince = h.source.ImportSince
		return constraints, nil
	}
}

func (h *Harvester) gatherError(ctx context.Context, run *store.Run, message string) error {
	h.logger.Error("gather failed", zap.String("run", run.ID), zap.String("message", message))
	if err := h.store.AddRunError(ctx, run.ID, message); err != nil {
		h.logger.Error("recording gather error", zap.Error(err))
	}
	return fmt.Errorf("%s", message)
}

func difference(remote map[string]bool, local map[string]string) []string {
	var guids []string
	for guid := range remote {
		if _, ok := local[guid]; !ok {
			guids = append(guids, guid)
		}
	}
	return guids
}

func missingLocals(local map[string]string, remote map[string]bool) []string {
	var guids []string
	for guid := range local {
		if !remote[guid] {
			guids = append(guids, guid)
		}
	}
	return guids
}

func intersection(remote map[string]bool, local map[string]string) []string {
	var guids []string
	for guid := range local {
		if remote[guid] {
			guids = append(guids, guid)
		}
	}
	return guids
}
