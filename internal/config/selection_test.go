package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSelection(t *testing.T) {
	path := writeFile(t, "selection.yaml", `
artifacts:
  - plugin:geo-*
recipes:
  - PROJ.compute_*
libraries:
  - PROJ
`)
	patterns, err := LoadSelection(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"plugin:geo-*", "recipe:PROJ.compute_*", "library:PROJ"}, patterns)
}

func TestLoadSelection_Empty(t *testing.T) {
	patterns, err := LoadSelection(writeFile(t, "selection.yaml", ""))
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestLoadSelection_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"unknown key": "datasets: [x]",
		"bad pattern": "artifacts: [geo]",
		"bad glob":    "plugins: ['[a']",
		"not yaml":    "artifacts: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSelection(writeFile(t, "selection.yaml", content))
			assert.Error(t, err)
		})
	}

	_, err := LoadSelection("/does/not/exist.yaml")
	assert.Error(t, err)
}
