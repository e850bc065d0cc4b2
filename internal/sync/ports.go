package sync

import (
	"context"

	"github.com/openmined/artifactsync/internal/artifact"
	"github.com/openmined/artifactsync/internal/fingerprint"
	"github.com/openmined/artifactsync/internal/localfs"
	"github.com/openmined/artifactsync/internal/metadata"
	"github.com/openmined/artifactsync/internal/remote"
)

// RemoteTransport is the content server as seen by the engine.
type RemoteTransport interface {
	ListPlugins(ctx context.Context) ([]string, error)
	ListArtifactFiles(ctx context.Context, key artifact.Key) ([]remote.FileInfo, error)
	ReadFile(ctx context.Context, key artifact.Key, remotePath string) ([]byte, error)
	WriteFile(ctx context.Context, key artifact.Key, remotePath string, data []byte) error
	DeleteFile(ctx context.Context, key artifact.Key, remotePath string) error
	ListRecipes(ctx context.Context, project string) ([]remote.RecipeInfo, error)
	ReadRecipe(ctx context.Context, project, name string) (*remote.Recipe, error)
	WriteRecipe(ctx context.Context, project, name, recipeType string, payload []byte) (int64, error)
	DeleteRecipe(ctx context.Context, project, name string) error
}

// LocalFiles is the instance root of a workspace. Paths are slash separated
// and relative to that root.
type LocalFiles interface {
	Exists(path string) (bool, error)
	DirExists(path string) (bool, error)
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Delete(path string) error
	MkdirAll(path string) error
	RemoveEmptyDir(path string) (bool, error)
	ListTree(dir string) ([]localfs.FileInfo, error)
	ListDirs(dir string) ([]string, error)
	Glob(pattern string) ([]string, error)
	Fingerprint(path string) (fingerprint.Fingerprint, error)
	Ignored(path string) bool
}

// MetadataStore persists the metadata root of an instance and the ancestor
// content of its files.
type MetadataStore interface {
	Load(instanceID string) (*metadata.Root, error)
	Save(ctx context.Context, instanceID string, root *metadata.Root) error
	MoveAside(instanceID string) (string, error)
	Attach(ctx context.Context, rec *metadata.FileRecord, data []byte) error
	Content(ctx context.Context, rec metadata.FileRecord) ([]byte, error)
}

var (
	_ RemoteTransport = (*remote.Client)(nil)
	_ LocalFiles      = (*localfs.FS)(nil)
	_ MetadataStore   = (*metadata.Store)(nil)
)
