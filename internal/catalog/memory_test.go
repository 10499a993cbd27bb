package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns id and active state", func(t *testing.T) {
		memory := NewMemory()
		id, err := memory.Create(ctx, &Dataset{Name: "naturschutzgebiete-wfs-65715c6e", Title: "Naturschutzgebiete"})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		stored, err := memory.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, StateActive, stored.State)
	})

	t.Run("keeps a pre-assigned id", func(t *testing.T) {
		memory := NewMemory()
		id, err := memory.Create(ctx, &Dataset{ID: "fixed-id", Name: "some-name"})
		require.NoError(t, err)
		assert.Equal(t, "fixed-id", id)
	})

	t.Run("duplicate name fails validation", func(t *testing.T) {
		memory := NewMemory()
		_, err := memory.Create(ctx, &Dataset{Name: "taken"})
		require.NoError(t, err)

		_, err = memory.Create(ctx, &Dataset{Name: "taken"})
		require.Error(t, err)

		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "That URL is already in use.", validation.Summary)
	})

	t.Run("missing name fails validation", func(t *testing.T) {
		memory := NewMemory()
		_, err := memory.Create(ctx, &Dataset{Title: "no name"})
		var validation *ValidationError
		assert.ErrorAs(t, err, &validation)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces the stored dataset", func(t *testing.T) {
		memory := NewMemory()
		id, err := memory.Create(ctx, &Dataset{Name: "some-name", Title: "Before"})
		require.NoError(t, err)

		_, err = memory.Update(ctx, &Dataset{ID: id, Name: "some-name", Title: "After"})
		require.NoError(t, err)

		stored, err := memory.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "After", stored.Title)
	})

	t.Run("unknown id fails", func(t *testing.T) {
		memory := NewMemory()
		_, err := memory.Update(ctx, &Dataset{ID: "no-such-id", Name: "whatever"})
		assert.Error(t, err)
	})

	t.Run("renaming onto a taken name fails", func(t *testing.T) {
		memory := NewMemory()
		_, err := memory.Create(ctx, &Dataset{Name: "taken"})
		require.NoError(t, err)
		id, err := memory.Create(ctx, &Dataset{Name: "free"})
		require.NoError(t, err)

		_, err = memory.Update(ctx, &Dataset{ID: id, Name: "taken"})
		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "That URL is already in use.", validation.Summary)
	})

	t.Run("reactivates a deleted dataset when state is set", func(t *testing.T) {
		memory := NewMemory()
		id, err := memory.Create(ctx, &Dataset{Name: "some-name"})
		require.NoError(t, err)
		require.NoError(t, memory.Delete(ctx, id))

		_, err = memory.Update(ctx, &Dataset{ID: id, Name: "some-name", State: StateActive})
		require.NoError(t, err)

		stored, err := memory.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StateActive, stored.State)
	})
}

func TestDeleteIsSoft(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory()

	id, err := memory.Create(ctx, &Dataset{Name: "some-name"})
	require.NoError(t, err)
	require.NoError(t, memory.Delete(ctx, id))

	stored, err := memory.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, StateDeleted, stored.State)

	byName, err := memory.GetByName(ctx, "some-name")
	require.NoError(t, err)
	assert.NotNil(t, byName)
}

func TestLookupsReturnNilForMissing(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory()

	dataset, err := memory.Get(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, dataset)

	dataset, err = memory.GetByName(ctx, "no-such-name")
	require.NoError(t, err)
	assert.Nil(t, dataset)
}

func TestReindexCount(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory()

	require.NoError(t, memory.Reindex(ctx, "dataset-1"))
	require.NoError(t, memory.Reindex(ctx, "dataset-1"))
	assert.Equal(t, 2, memory.ReindexCount("dataset-1"))
	assert.Equal(t, 0, memory.ReindexCount("dataset-2"))
}

func TestDatasetExtra(t *testing.T) {
	dataset := &Dataset{Extras: []Extra{{Key: "GUID", Value: "65715c6e"}}}

	value, ok := dataset.Extra("guid")
	assert.True(t, ok)
	assert.Equal(t, "65715c6e", value)

	_, ok = dataset.Extra("missing")
	assert.False(t, ok)
}
