package remote

import (
	"github.com/openmined/artifactsync/internal/fingerprint"
)

// FileInfo is one entry of a plugin or library listing. Servers may omit the
// fingerprint, in which case the content has to be fetched to compute it.
type FileInfo struct {
	Path        string               `json:"path"`
	Size        int64                `json:"size"`
	Fingerprint fingerprint.Optional `json:"fingerprint"`
}

// Recipe is a recipe payload and the server-side version it was read at.
type Recipe struct {
	Name    string
	Type    string
	Payload []byte
	Version int64
}

// RecipeInfo is one entry of a project recipe listing.
type RecipeInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type pluginInfo struct {
	ID string `json:"id"`
}

type versionTag struct {
	VersionNumber int64 `json:"versionNumber"`
}

type recipeDescriptor struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	VersionTag versionTag `json:"versionTag"`
}

type recipeResponse struct {
	Recipe  recipeDescriptor `json:"recipe"`
	Payload string           `json:"payload"`
}

// recipeWriteRequest carries the payload as a JSON string, so only UTF-8
// payloads survive the round trip; WriteRecipe rejects anything else.
type recipeWriteRequest struct {
	Payload string `json:"payload"`
	Type    string `json:"type,omitempty"`
}

type recipeWriteResponse struct {
	VersionTag versionTag `json:"versionTag"`
}
