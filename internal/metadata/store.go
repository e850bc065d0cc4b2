package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/artifactsync/internal/fingerprint"
	"github.com/openmined/artifactsync/internal/utils"
)

// DefaultInlineLimit is the largest content kept inline in the document.
const DefaultInlineLimit = 64 * 1024

type StoreOption func(*Store)

// WithInlineLimit sets the size above which content goes to the blob store.
// A negative limit inlines everything.
func WithInlineLimit(n int) StoreOption {
	return func(s *Store) {
		s.inlineLimit = n
	}
}

// Store reads and writes one metadata document per instance, under dir.
// A document is always rewritten as a whole, through a temp file and a rename.
type Store struct {
	dir         string
	blobs       BlobStore
	inlineLimit int
}

func NewStore(dir string, blobs BlobStore, opts ...StoreOption) *Store {
	s := &Store{
		dir:         dir,
		blobs:       blobs,
		inlineLimit: DefaultInlineLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path of the document for an instance.
func (s *Store) Path(instanceID string) string {
	return filepath.Join(s.dir, instanceID+".json")
}

// Load reads the document of an instance. A missing document is an empty
// root; an unreadable one is ErrStoreCorrupt.
func (s *Store) Load(instanceID string) (*Root, error) {
	data, err := os.ReadFile(s.Path(instanceID))
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("metadata not found, starting empty", "instance", instanceID)
		return NewRoot(), nil
	} else if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var root Root
	if err := jsonUnmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, s.Path(instanceID), err)
	}
	if err := root.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, s.Path(instanceID), err)
	}
	root.normalize()

	return &root, nil
}

// Save atomically replaces the document of an instance, then drops blobs that
// the saved root no longer references.
func (s *Store) Save(ctx context.Context, instanceID string, root *Root) error {
	if root == nil {
		return errors.New("cannot save nil root")
	}
	root.normalize()
	root.SchemaVersion = SchemaVersion

	data, err := jsonMarshal(root)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if err := utils.WriteFileAtomic(s.Path(instanceID), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	slog.Debug("metadata saved", "instance", instanceID, "records", root.Len())

	if s.blobs != nil {
		if err := s.prune(ctx, instanceID, root); err != nil {
			slog.Warn("metadata blob prune", "instance", instanceID, "error", err)
		}
	}
	return nil
}

// MoveAside renames a corrupt document out of the way so that the next Load
// starts from an empty root. It returns the new path.
func (s *Store) MoveAside(instanceID string) (string, error) {
	timestamp := time.Now().Format("20060102150405")
	src := s.Path(instanceID)
	dst := fmt.Sprintf("%s.%s.bak", src, timestamp)
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to move metadata aside: %w", err)
	}
	return dst, nil
}

// Attach sets the fingerprint and ancestor content of rec.
func (s *Store) Attach(ctx context.Context, rec *FileRecord, data []byte) error {
	rec.Fingerprint = fingerprint.Sum(data)
	rec.BlobRef = ""
	rec.Data = nil

	if s.blobs == nil || s.inlineLimit < 0 || len(data) <= s.inlineLimit {
		rec.Data = append([]byte{}, data...)
		return nil
	}

	ref := newBlobRef(rec.InstanceID)
	if err := s.blobs.Put(ctx, ref, data); err != nil {
		return err
	}
	rec.BlobRef = ref
	return nil
}

// Content returns the ancestor content recorded for rec.
func (s *Store) Content(ctx context.Context, rec FileRecord) ([]byte, error) {
	if rec.BlobRef == "" {
		return rec.Data, nil
	}
	if s.blobs == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, rec.BlobRef)
	}
	return s.blobs.Get(ctx, rec.BlobRef)
}

func (s *Store) prune(ctx context.Context, instanceID string, root *Root) error {
	refs, err := s.blobs.List(ctx, blobPrefix(instanceID))
	if err != nil {
		return err
	}

	keep := root.blobRefs()
	var errs []error
	pruned := 0
	for _, ref := range refs {
		if _, ok := keep[ref]; ok {
			continue
		}
		if err := s.blobs.Delete(ctx, ref); err != nil {
			errs = append(errs, err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		slog.Debug("metadata blobs pruned", "instance", instanceID, "count", pruned)
	}
	return errors.Join(errs...)
}
