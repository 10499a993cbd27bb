package harvester

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berlinonline/fisbroker-harvester/internal/catalog"
	"github.com/berlinonline/fisbroker-harvester/internal/csw"
	"github.com/berlinonline/fisbroker-harvester/internal/store"
)

// harvestedDataset seeds the catalog and the job store as if one package
// had been harvested before.
func harvestedDataset(t *testing.T, st *store.Memory, cat *catalog.Memory, guid, name string) string {
	t.Helper()
	ctx := context.Background()

	datasetID, err := cat.Create(ctx, &catalog.Dataset{
		Name:   name,
		Title:  "Naturschutzgebiete - [WFS]",
		Extras: []catalog.Extra{{Key: "guid", Value: guid}},
	})
	require.NoError(t, err)

	entity := &store.Entity{
		SourceID:         "fisbroker-1",
		GUID:             guid,
		DatasetID:        datasetID,
		Status:           store.StatusNew,
		Current:          true,
		MetadataModified: time.Date(2019, 5, 21, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.CreateEntity(ctx, entity))
	return datasetID
}

func TestReimportPreflight(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown package", func(t *testing.T) {
		h, _, _ := newTestHarvester(testSource(), &fakeCSW{})

		_, err := h.Reimport(ctx, "no-such-package")
		var reimportErr *ReimportError
		require.ErrorAs(t, err, &reimportErr)
		assert.Equal(t, ErrorNotFoundInCatalog, reimportErr.Code)
		assert.Equal(t, "Package id 'no-such-package' does not exist. Cannot reimport package.", reimportErr.Message)
	})

	t.Run("package exists but was never harvested", func(t *testing.T) {
		h, _, cat := newTestHarvester(testSource(), &fakeCSW{})
		datasetID, err := cat.Create(ctx, &catalog.Dataset{Name: "manually-created"})
		require.NoError(t, err)

		_, err = h.Reimport(ctx, datasetID)
		var reimportErr *ReimportError
		require.ErrorAs(t, err, &reimportErr)
		assert.Equal(t, ErrorNotHarvested, reimportErr.Code)
	})

	t.Run("package was harvested by a different source", func(t *testing.T) {
		h, st, cat := newTestHarvester(testSource(), &fakeCSW{})
		datasetID, err := cat.Create(ctx, &catalog.Dataset{Name: "foreign"})
		require.NoError(t, err)
		require.NoError(t, st.CreateEntity(ctx, &store.Entity{
			SourceID:  "another-source",
			GUID:      "aaa",
			DatasetID: datasetID,
			Current:   true,
		}))

		_, err = h.Reimport(ctx, datasetID)
		var reimportErr *ReimportError
		require.ErrorAs(t, err, &reimportErr)
		assert.Equal(t, ErrorNotHarvestedBySource, reimportErr.Code)
		assert.Contains(t, reimportErr.Message, "harvester 'fisbroker-1'")
	})

	t.Run("no guid anywhere", func(t *testing.T) {
		h, st, cat := newTestHarvester(testSource(), &fakeCSW{})
		datasetID, err := cat.Create(ctx, &catalog.Dataset{Name: "guidless"})
		require.NoError(t, err)
		require.NoError(t, st.CreateEntity(ctx, &store.Entity{
			SourceID:  "fisbroker-1",
			DatasetID: datasetID,
			Current:   true,
		}))

		_, err = h.Reimport(ctx, datasetID)
		var reimportErr *ReimportError
		require.ErrorAs(t, err, &reimportErr)
		assert.Equal(t, ErrorNoGUID, reimportErr.Code)
	})

	t.Run("guid falls back to the dataset extra", func(t *testing.T) {
		client := &fakeCSW{records: map[string]*csw.Record{
			"65715c6e-bbaf-3def": cswRecord("65715c6e-bbaf-3def", "Naturschutzgebiete", "2019-05-21"),
		}}
		h, st, cat := newTestHarvester(testSource(), client)
		datasetID, err := cat.Create(ctx, &catalog.Dataset{
			Name:   "naturschutzgebiete-wfs-65715c6e",
			Extras: []catalog.Extra{{Key: "guid", Value: "65715c6e-bbaf-3def"}},
		})
		require.NoError(t, err)
		require.NoError(t, st.CreateEntity(ctx, &store.Entity{
			SourceID:  "fisbroker-1",
			DatasetID: datasetID,
			Current:   true,
		}))

		result, err := h.Reimport(ctx, datasetID)
		require.NoError(t, err)
		assert.Equal(t, "65715c6e-bbaf-3def", result.GUID)
	})

	t.Run("package is resolved by name as well", func(t *testing.T) {
		client := &fakeCSW{records: map[string]*csw.Record{
			"65715c6e-bbaf-3def": cswRecord("65715c6e-bbaf-3def", "Naturschutzgebiete", "2019-05-21"),
		}}
		h, st, cat := newTestHarvester(testSource(), client)
		datasetID := harvestedDataset(t, st, cat, "65715c6e-bbaf-3def", "naturschutzgebiete-wfs-65715c6e")

		result, err := h.Reimport(ctx, "naturschutzgebiete-wfs-65715c6e")
		require.NoError(t, err)
		assert.Equal(t, "65715c6e-bbaf-3def", result.GUID)
		assert.Equal(t, OutcomeUpdated, result.Outcome)

		entity, err := st.EntityForDataset(ctx, datasetID)
		require.NoError(t, err)
		require.NotNil(t, entity)
		assert.True(t, entity.Current)
	})
}

func TestReimport(t *testing.T) {
	ctx := context.Background()

	t.Run("forces the update even for a non-newer record", func(t *testing.T) {
		client := &fakeCSW{records: map[string]*csw.Record{
			"65715c6e-bbaf-3def": cswRecord("65715c6e-bbaf-3def", "Naturschutzgebiete Neu", "2019-05-21"),
		}}
		h, st, cat := newTestHarvester(testSource(), client)
		datasetID := harvestedDataset(t, st, cat, "65715c6e-bbaf-3def", "naturschutzgebiete-wfs-65715c6e")

		result, err := h.Reimport(ctx, datasetID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, result.Outcome)
		assert.Equal(t, datasetID, result.DatasetID)

		dataset, err := cat.Get(ctx, datasetID)
		require.NoError(t, err)
		assert.Equal(t, "Naturschutzgebiete Neu - [WFS]", dataset.Title)
	})

	t.Run("records a finished reimport run even on failure", func(t *testing.T) {
		client := &fakeCSW{connectErr: errors.New("down")}
		h, st, cat := newTestHarvester(testSource(), client)
		datasetID := harvestedDataset(t, st, cat, "65715c6e-bbaf-3def", "naturschutzgebiete-wfs-65715c6e")

		_, err := h.Reimport(ctx, datasetID)
		var reimportErr *ReimportError
		require.ErrorAs(t, err, &reimportErr)
		assert.Equal(t, ErrorNoConnection, reimportErr.Code)
		assert.Contains(t, reimportErr.Message, "Failed to establish connection to FIS-Broker service")

		// reimport runs never count as error-free harvests
		run, err := st.LastErrorFreeRun(ctx, "fisbroker-1")
		require.NoError(t, err)
		assert.Nil(t, run)
	})

	t.Run("record gone from the service", func(t *testing.T) {
		client := &fakeCSW{}
		h, st, cat := newTestHarvester(testSource(), client)
		datasetID := harvestedDataset(t, st, cat, "65715c6e-bbaf-3def", "naturschutzgebiete-wfs-65715c6e")

		_, err := h.Reimport(ctx, datasetID)
		var reimportErr *ReimportError
		require.ErrorAs(t, err, &reimportErr)
		assert.Equal(t, ErrorNotFoundRemote, reimportErr.Code)
		assert.Contains(t, reimportErr.Message, "GUID '65715c6e-bbaf-3def' was not found on FIS-Broker")
	})

	t.Run("rejected record deactivates the package", func(t *testing.T) {
		// the remote record lost its opendata tag since the original harvest
		client := &fakeCSW{records: map[string]*csw.Record{
			"65715c6e-bbaf-3def": cswRecord("65715c6e-bbaf-3def", "Naturschutzgebiete", "2019-05-21", "Umwelt"),
		}}
		h, st, cat := newTestHarvester(testSource(), client)
		datasetID := harvestedDataset(t, st, cat, "65715c6e-bbaf-3def", "naturschutzgebiete-wfs-65715c6e")

		_, err := h.Reimport(ctx, datasetID)
		var reimportErr *ReimportError
		require.ErrorAs(t, err, &reimportErr)
		assert.Equal(t, ErrorDuringImport, reimportErr.Code)
		assert.True(t, strings.HasSuffix(reimportErr.Message, "Package will be deactivated."), reimportErr.Message)

		dataset, err := cat.Get(ctx, datasetID)
		require.NoError(t, err)
		assert.Equal(t, catalog.StateDeleted, dataset.State)
	})
}

func TestReimportBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("reimports every package", func(t *testing.T) {
		client := &fakeCSW{records: map[string]*csw.Record{
			"65715c6e-aaaa": cswRecord("65715c6e-aaaa", "Erster Datensatz", "2019-05-21"),
			"deadbeef-bbbb": cswRecord("deadbeef-bbbb", "Zweiter Datensatz", "2019-05-21"),
		}}
		h, st, cat := newTestHarvester(testSource(), client)
		first := harvestedDataset(t, st, cat, "65715c6e-aaaa", "erster-datensatz-wfs-65715c6e")
		second := harvestedDataset(t, st, cat, "deadbeef-bbbb", "zweiter-datensatz-wfs-deadbeef")

		results, err := h.ReimportBatch(ctx, []string{first, second})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, OutcomeUpdated, results[first].Outcome)
		assert.Equal(t, OutcomeUpdated, results[second].Outcome)
	})

	t.Run("a missing record aborts before any catalog mutation", func(t *testing.T) {
		// only the first record still exists on the service
		client := &fakeCSW{records: map[string]*csw.Record{
			"65715c6e-aaaa": cswRecord("65715c6e-aaaa", "Geänderter Titel", "2019-05-21"),
		}}
		h, st, cat := newTestHarvester(testSource(), client)
		first := harvestedDataset(t, st, cat, "65715c6e-aaaa", "erster-datensatz-wfs-65715c6e")
		second := harvestedDataset(t, st, cat, "deadbeef-bbbb", "zweiter-datensatz-wfs-deadbeef")

		_, err := h.ReimportBatch(ctx, []string{first, second})
		var reimportErr *ReimportError
		require.ErrorAs(t, err, &reimportErr)
		assert.Equal(t, ErrorNotFoundRemote, reimportErr.Code)
		assert.Equal(t, second, reimportErr.DatasetID)

		// the first package was fetchable but must not have been touched
		dataset, err := cat.Get(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, "Naturschutzgebiete - [WFS]", dataset.Title)
	})

	t.Run("a preflight failure aborts before any network access", func(t *testing.T) {
		client := &fakeCSW{records: map[string]*csw.Record{
			"65715c6e-aaaa": cswRecord("65715c6e-aaaa", "Erster Datensatz", "2019-05-21"),
		}}
		h, st, cat := newTestHarvester(testSource(), client)
		first := harvestedDataset(t, st, cat, "65715c6e-aaaa", "erster-datensatz-wfs-65715c6e")

		_, err := h.ReimportBatch(ctx, []string{first, "no-such-package"})
		var reimportErr *ReimportError
		require.ErrorAs(t, err, &reimportErr)
		assert.Equal(t, ErrorNotFoundInCatalog, reimportErr.Code)
		assert.Zero(t, client.connects)
	})
}

func TestReimportErrorMessages(t *testing.T) {
	err := NoConnectionError("", "https://example.org/csw", errors.New("timeout"))
	assert.Equal(t, ErrorNoConnection, err.Code)
	assert.Equal(t, "Failed to establish connection to FIS-Broker service at https://example.org/csw (timeout).", err.Message)

	err = NoConnectionError("dataset-1", "https://example.org/csw", errors.New("timeout"))
	assert.Equal(t, ErrorNoConnection, err.Code)
	assert.Equal(t,
		"Failed to establish connection to FIS-Broker service at https://example.org/csw (timeout) while reimporting package 'dataset-1'.",
		err.Message)
}
