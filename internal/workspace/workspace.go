package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/openmined/artifactsync/internal/localfs"
	"github.com/openmined/artifactsync/internal/utils"
)

const (
	metadataDir = ".artifactsync"
	lockFile    = "session.lock"
	blobsFile   = "blobs.db"
)

var (
	ErrWorkspaceLocked   = errors.New("workspace locked by another session")
	ErrInvalidInstanceID = errors.New("invalid instance id")
)

// Workspace is a local directory mirroring one or more content server
// instances. Each instance has its own subdirectory; sync metadata for all of
// them lives under MetadataDir.
type Workspace struct {
	Root        string
	MetadataDir string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	meta := filepath.Join(root, metadataDir)
	return &Workspace{
		Root:        root,
		MetadataDir: meta,
		flock:       flock.New(filepath.Join(meta, lockFile)),
	}, nil
}

// InstanceDir is the directory holding the artifacts of an instance.
func (w *Workspace) InstanceDir(instanceID string) string {
	return filepath.Join(w.Root, instanceID)
}

// IgnoreFilePath is the ignore file of an instance.
func (w *Workspace) IgnoreFilePath(instanceID string) string {
	return filepath.Join(w.InstanceDir(instanceID), localfs.IgnoreFile)
}

// BlobsPath is the sqlite database keeping externalized ancestor content.
func (w *Workspace) BlobsPath() string {
	return filepath.Join(w.MetadataDir, blobsFile)
}

// Lock makes sure a single sync session works on the workspace.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// not ours to remove
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Setup creates the directories of an instance.
func (w *Workspace) Setup(instanceID string) error {
	if err := ValidateInstanceID(instanceID); err != nil {
		return err
	}
	for _, dir := range []string{w.MetadataDir, w.InstanceDir(instanceID)} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	slog.Debug("workspace", "root", w.Root, "instance", instanceID)
	return nil
}

// ValidateInstanceID checks that an instance id can name a directory of the
// workspace.
func ValidateInstanceID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidInstanceID)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidInstanceID, id)
	case strings.ContainsAny(id, `/\:`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidInstanceID, id)
	}
	return nil
}
