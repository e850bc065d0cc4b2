package sync

import (
	"github.com/openmined/artifactsync/internal/artifact"
	"github.com/openmined/artifactsync/internal/fingerprint"
)

// LocalFile is a file found in the workspace.
type LocalFile struct {
	LocalPath   string
	Fingerprint fingerprint.Fingerprint
}

// RemoteFile is a file found on the content server.
type RemoteFile struct {
	Fingerprint fingerprint.Fingerprint
	Size        int64
	// Version is only set for recipes.
	Version *int64
}

// ArtifactState is what was observed for one artifact on both sides. Files are
// keyed by remote path; a recipe has a single file under the empty path.
type ArtifactState struct {
	Key    artifact.Key
	Local  map[string]LocalFile
	Remote map[string]RemoteFile
	// RemoteExists is false when the server answered 404 for the artifact.
	RemoteExists bool
	// LocalDirs lists the existing directories of the artifact, its own
	// directory included, relative to the instance root.
	LocalDirs []string
	// Ignored holds the remote paths matching the ignore rules. They are
	// neither transferred nor deleted on either side.
	Ignored map[string]bool
	// RecipeType is the type reported by the server, if any.
	RecipeType string
	// Err is set when the artifact could not be observed; it is skipped.
	Err error
}

func newArtifactState(key artifact.Key) *ArtifactState {
	return &ArtifactState{
		Key:     key,
		Local:   make(map[string]LocalFile),
		Remote:  make(map[string]RemoteFile),
		Ignored: make(map[string]bool),
	}
}

// Snapshot is the observed state of every selected artifact.
type Snapshot struct {
	Artifacts map[artifact.Key]*ArtifactState
}

func NewSnapshot() *Snapshot {
	return &Snapshot{Artifacts: make(map[artifact.Key]*ArtifactState)}
}

// State returns the state of key, or an empty one if it was not observed.
func (s *Snapshot) State(key artifact.Key) *ArtifactState {
	if s != nil {
		if st, ok := s.Artifacts[key]; ok {
			return st
		}
	}
	return newArtifactState(key)
}

func (s *Snapshot) put(st *ArtifactState) {
	s.Artifacts[st.Key] = st
}
