package artifact

import (
	"path"
	"strings"
)

const (
	recipesDir   = "recipes"
	pluginsDir   = "plugins"
	librariesDir = "libraries"
)

var recipeExtensions = map[string]string{
	"python":      "py",
	"pyspark":     "py",
	"r":           "R",
	"sparkr":      "R",
	"sql_script":  "sql",
	"sql_query":   "sql",
	"hive":        "hql",
	"impala":      "sql",
	"spark_sql":   "sql",
	"shell":       "sh",
	"spark_scala": "scala",
	"julia":       "jl",
}

// RecipeExtension maps a recipe type to the extension used for its local file.
func RecipeExtension(recipeType string) string {
	if ext, ok := recipeExtensions[strings.ToLower(recipeType)]; ok {
		return ext
	}
	return "txt"
}

// Dir returns the directory holding every artifact of the kind.
func (k Kind) Dir() string {
	switch k {
	case KindRecipe:
		return recipesDir
	case KindPlugin:
		return pluginsDir
	case KindLibrary:
		return librariesDir
	}
	return ""
}

// Dir returns the slash separated directory holding the artifact, relative to
// the instance root of a workspace.
func (k Key) Dir() string {
	switch k.Kind {
	case KindRecipe, KindLibrary:
		return path.Join(k.Kind.Dir(), k.Project)
	case KindPlugin:
		return path.Join(k.Kind.Dir(), k.Name)
	}
	return ""
}

// RecipeFile returns the local path of a recipe payload of the given type.
func (k Key) RecipeFile(recipeType string) string {
	return path.Join(k.Dir(), k.Name+"."+RecipeExtension(recipeType))
}

// RecipeGlob matches any local payload file of the recipe, whatever its extension.
func (k Key) RecipeGlob() string {
	return path.Join(k.Dir(), k.Name+".*")
}

// LocalPath maps a remote relative path of a tree artifact to its local path.
func (k Key) LocalPath(remotePath string) string {
	return path.Join(k.Dir(), remotePath)
}

// defaultRecipeTypes picks a type for a recipe created locally, from the
// extension of its payload file.
var defaultRecipeTypes = map[string]string{
	"py":    "python",
	"r":     "r",
	"sql":   "sql_script",
	"hql":   "hive",
	"sh":    "shell",
	"scala": "spark_scala",
	"jl":    "julia",
}

// RecipeTypeOf guesses the recipe type of a local payload file. It returns
// an empty string for unknown extensions.
func RecipeTypeOf(localPath string) string {
	ext := strings.TrimPrefix(path.Ext(localPath), ".")
	return defaultRecipeTypes[strings.ToLower(ext)]
}
