package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHarvesterFromFile(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		harvester, err := NewHarvesterFromFile("../../dev/examples/fisbroker.harvester.yml")
		assert.NoError(t, err)
		assert.NotNil(t, harvester)
		assert.Equal(t, "fisbroker-1", harvester.Source.ID)
		assert.Equal(t, "last_error_free", harvester.Source.ImportSince)
		assert.Equal(t, 20, harvester.Source.Timeout)
		assert.Equal(t, 1, harvester.Source.Timedelta)
		assert.True(t, harvester.Source.ShouldReindexUnchanged())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewHarvesterFromFile("no-such-file.yml")
		assert.Error(t, err)
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	fpath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(fpath, []byte(content), 0o644))
	return fpath
}

func TestSourceValidation(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		fpath := writeConfig(t, `
source:
  id: fisbroker-1
  url: "https://fbinter.stadt-berlin.de/fb/csw"
`)
		harvester, err := NewHarvesterFromFile(fpath)
		require.NoError(t, err)
		assert.Equal(t, TimeoutDefault, harvester.Source.Timeout)
		assert.Equal(t, TimedeltaDefault, harvester.Source.Timedelta)
	})

	t.Run("fractional timeout rejected", func(t *testing.T) {
		fpath := writeConfig(t, `
source:
  id: fisbroker-1
  url: "https://example.org/csw"
  timeout: 2.5
`)
		_, err := NewHarvesterFromFile(fpath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "'timeout' is not valid")
	})

	t.Run("non numeric timedelta rejected", func(t *testing.T) {
		fpath := writeConfig(t, `
source:
  id: fisbroker-1
  url: "https://example.org/csw"
  timedelta: soon
`)
		_, err := NewHarvesterFromFile(fpath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "'timedelta' is not valid")
	})

	t.Run("string timeout parsed", func(t *testing.T) {
		fpath := writeConfig(t, `
source:
  id: fisbroker-1
  url: "https://example.org/csw"
  timeout: "30"
`)
		harvester, err := NewHarvesterFromFile(fpath)
		require.NoError(t, err)
		assert.Equal(t, 30, harvester.Source.Timeout)
	})

	t.Run("import_since keywords accepted", func(t *testing.T) {
		for _, keyword := range []string{"big_bang", "last_error_free", "2020-03-01"} {
			source := Source{ImportSince: keyword}
			assert.NoError(t, source.Validate(), keyword)
		}
	})

	t.Run("import_since garbage rejected", func(t *testing.T) {
		source := Source{ImportSince: "anytime"}
		err := source.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "'import_since' is not a valid date")
	})

	t.Run("reindex_unchanged defaults to true", func(t *testing.T) {
		source := Source{}
		assert.True(t, source.ShouldReindexUnchanged())

		off := false
		source.ReindexUnchanged = &off
		assert.False(t, source.ShouldReindexUnchanged())
	})
}
