// Package metadata persists the last synchronized state of every tracked file,
// per workspace and content server instance.
package metadata

import (
	"errors"
	"fmt"

	"github.com/openmined/artifactsync/internal/artifact"
	"github.com/openmined/artifactsync/internal/fingerprint"
)

// SchemaVersion of the persisted document written by this build.
const SchemaVersion = 1

var (
	ErrStoreCorrupt = errors.New("metadata: store corrupt")
	ErrBlobNotFound = errors.New("metadata: blob not found")
)

// FileRecord is the last synchronized state of one file. The content is kept
// either inline (Data) or in a blob store (BlobRef), never both, and is used
// as the common ancestor when both sides change.
//
// Recipes carry a single payload with an empty RemotePath.
type FileRecord struct {
	InstanceID  string                  `json:"instanceId"`
	ArtifactID  string                  `json:"artifactId"`
	LocalPath   string                  `json:"localPath"`
	RemotePath  string                  `json:"remotePath"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Version     *int64                  `json:"version,omitempty"`
	BlobRef     string                  `json:"blobRef,omitempty"`
	Data        []byte                  `json:"data"`
}

func (r FileRecord) HasVersion() bool {
	return r.Version != nil
}

func (r FileRecord) validate() error {
	if r.ArtifactID == "" {
		return errors.New("record without artifact id")
	}
	if r.BlobRef != "" && r.Data != nil {
		return fmt.Errorf("record %s/%s has both inline data and a blob ref", r.ArtifactID, r.RemotePath)
	}
	return nil
}

// ArtifactRecord groups the files of one plugin or library, ordered by remote path.
type ArtifactRecord struct {
	InstanceID string        `json:"instanceId"`
	Kind       artifact.Kind `json:"kind"`
	ArtifactID string        `json:"artifactId"`
	Files      []FileRecord  `json:"files"`
}

// Root is the whole persisted document for one workspace and instance.
type Root struct {
	SchemaVersion int              `json:"schemaVersion"`
	Recipes       []FileRecord     `json:"recipes"`
	Plugins       []ArtifactRecord `json:"plugins"`
	Libraries     []ArtifactRecord `json:"libraries"`
}

// NewRoot returns an empty root at the current schema version.
func NewRoot() *Root {
	return &Root{
		SchemaVersion: SchemaVersion,
		Recipes:       []FileRecord{},
		Plugins:       []ArtifactRecord{},
		Libraries:     []ArtifactRecord{},
	}
}

func (r *Root) normalize() {
	if r.Recipes == nil {
		r.Recipes = []FileRecord{}
	}
	if r.Plugins == nil {
		r.Plugins = []ArtifactRecord{}
	}
	if r.Libraries == nil {
		r.Libraries = []ArtifactRecord{}
	}
	for _, group := range [][]ArtifactRecord{r.Plugins, r.Libraries} {
		for i := range group {
			if group[i].Files == nil {
				group[i].Files = []FileRecord{}
			}
		}
	}
}

func (r *Root) validate() error {
	if r.SchemaVersion < 1 || r.SchemaVersion > SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", r.SchemaVersion)
	}
	var errs []error
	r.each(func(_ artifact.Kind, rec FileRecord) {
		if err := rec.validate(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
