package harvester

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/store"
)

var xmlDeclaration = regexp.MustCompile(`<\?xml(.*?)\?>`)

// Fetch retrieves the raw record for one entity and stores it as the
// entity's content. Deletions need no network access and trivially succeed.
// Failures are recorded as object-level errors and reported as false.
func (h *Harvester) Fetch(ctx context.Context, entity *store.Entity) bool {
	if entity.Status == store.StatusDelete {
		return true
	}

	h.logger.Debug("fetch stage", zap.String("object", entity.ID), zap.String("guid", entity.GUID))

	if err := h.connect(ctx); err != nil {
		h.objectError(ctx, entity, fmt.Sprintf("Error setting up CSW client: %v", err))
		return false
	}

	record, err := h.csw.GetRecordByID(ctx, entity.GUID)
	if err != nil {
		h.objectError(ctx, entity, fmt.Sprintf("Error getting the CSW record with GUID %s: %v", entity.GUID, err))
		return false
	}
	if record == nil {
		h.objectError(ctx, entity, fmt.Sprintf("Empty record for GUID %s", entity.GUID))
		return false
	}

	// drop the original XML declaration before storing
	content := xmlDeclaration.ReplaceAllString(record.XML, "")
	entity.Content = strings.TrimSpace(content)
	if err := h.store.UpdateEntity(ctx, entity); err != nil {
		h.objectError(ctx, entity, fmt.Sprintf("Error saving the object for GUID %s [%v]", entity.GUID, err))
		return false
	}

	h.logger.Debug("XML content saved", zap.Int("len", len(record.XML)))
	return true
}

func (h *Harvester) objectError(ctx context.Context, entity *store.Entity, message string) {
	h.logger.Error("object error",
		zap.String("object", entity.ID),
		zap.String("guid", entity.GUID),
		zap.String("message", message))
	entity.Errors = append(entity.Errors, message)
	if err := h.store.AddEntityError(ctx, entity.ID, message); err != nil {
		h.logger.Error("recording object error", zap.Error(err))
	}
}
