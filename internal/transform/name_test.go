package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		title    string
		expected string
	}{
		{"Naturschutzgebiete - [WFS]", "naturschutzgebiete-wfs"},
		{"Bodengesellschaften 2015", "bodengesellschaften-2015"},
		{"Straßenbäume, Bestand", "strassenbaume-bestand"},
		{"Gewässerkarte 1:5.000", "gewasserkarte-1-5-000"},
		{"Öffentliche Grünflächen", "offentliche-grunflachen"},
	}
	for _, tc := range cases {
		t.Run(tc.title, func(t *testing.T) {
			assert.Equal(t, tc.expected, Slugify(tc.title))
		})
	}
}

func TestGenerateName(t *testing.T) {
	t.Run("appends first guid segment", func(t *testing.T) {
		name := GenerateName("Naturschutzgebiete - [WFS]", "65715c6e-bbaf-3def-a225-d3917bd2a2ef")
		assert.Equal(t, "naturschutzgebiete-wfs-65715c6e", name)
	})

	t.Run("long titles are truncated to leave room for the suffix", func(t *testing.T) {
		title := strings.Repeat("lange-titel ", 20)
		name := GenerateName(title, "65715c6e-bbaf-3def-a225-d3917bd2a2ef")
		assert.LessOrEqual(t, len(name), 100)
		assert.True(t, strings.HasSuffix(name, "-65715c6e"))
		assert.False(t, strings.Contains(name, "--"))
	})

	t.Run("same title, different guids stay distinct", func(t *testing.T) {
		first := GenerateName("Naturschutzgebiete - [WFS]", "65715c6e-bbaf-3def")
		second := GenerateName("Naturschutzgebiete - [WFS]", "deadbeef-bbaf-3def")
		assert.NotEqual(t, first, second)
	})
}
