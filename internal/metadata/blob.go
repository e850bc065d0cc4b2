package metadata

import (
	"context"
	"path"

	"github.com/google/uuid"
)

// BlobStore keeps ancestor content too large to be inlined in the metadata
// document. References are namespaced by instance so that a single store can
// be shared by every instance of a workspace.
type BlobStore interface {
	Put(ctx context.Context, ref string, data []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

func newBlobRef(instanceID string) string {
	return path.Join(instanceID, uuid.NewString())
}

func blobPrefix(instanceID string) string {
	return instanceID + "/"
}
