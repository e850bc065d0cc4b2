package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		input   string
		want    Key
		wantErr bool
	}{
		{"recipe:PROJ.compute_users", Recipe("PROJ", "compute_users"), false},
		{"recipes:PROJ.a.b", Recipe("PROJ", "a.b"), false},
		{"plugin:my-plugin", Plugin("my-plugin"), false},
		{"library:PROJ", Library("PROJ"), false},
		{"lib:PROJ", Library("PROJ"), false},
		{"recipe:PROJ", Key{}, true},
		{"plugin:", Key{}, true},
		{"dataset:PROJ.x", Key{}, true},
		{"plugin:a/b", Key{}, true},
		{"nokind", Key{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKey(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			again, err := ParseKey(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestKeyLayout(t *testing.T) {
	r := Recipe("PROJ", "compute")
	assert.Equal(t, "recipes/PROJ/compute.py", r.RecipeFile("python"))
	assert.Equal(t, "recipes/PROJ/compute.R", r.RecipeFile("r"))
	assert.Equal(t, "recipes/PROJ/compute.txt", r.RecipeFile("visual"))
	assert.Equal(t, "recipes/PROJ/compute.*", r.RecipeGlob())
	assert.Equal(t, "python", RecipeTypeOf("recipes/PROJ/compute.py"))
	assert.Equal(t, "r", RecipeTypeOf("recipes/PROJ/compute.R"))
	assert.Empty(t, RecipeTypeOf("recipes/PROJ/compute.txt"))

	p := Plugin("geo")
	assert.Equal(t, "plugins/geo/python-lib/geo/a.py", p.LocalPath("python-lib/geo/a.py"))
	assert.Equal(t, "libraries/PROJ/python/x.py", Library("PROJ").LocalPath("python/x.py"))
}

func TestFileID(t *testing.T) {
	assert.Equal(t, "plugin:geo/plugin.json", FileID(Plugin("geo"), "plugin.json"))
	assert.Equal(t, "recipe:PROJ.compute", FileID(Recipe("PROJ", "compute"), ""))
}

func TestLess(t *testing.T) {
	assert.True(t, Less(Recipe("B", "x"), Plugin("a")))
	assert.True(t, Less(Plugin("a"), Plugin("b")))
	assert.False(t, Less(Library("A"), Plugin("z")))
}

func TestCleanRemotePath(t *testing.T) {
	got, err := CleanRemotePath("python-lib//geo/./a.py")
	require.NoError(t, err)
	assert.Equal(t, "python-lib/geo/a.py", got)

	_, err = CleanRemotePath("../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = CleanRemotePath("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
