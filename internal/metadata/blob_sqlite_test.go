package metadata

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqliteBlobStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	blobs, err := NewSqliteBlobStore(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	defer blobs.Close()

	require.NoError(t, blobs.Put(ctx, "design/a", []byte("alpha")))
	require.NoError(t, blobs.Put(ctx, "design/b", nil))
	require.NoError(t, blobs.Put(ctx, "automation/c", []byte("gamma")))

	data, err := blobs.Get(ctx, "design/a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	data, err = blobs.Get(ctx, "design/b")
	require.NoError(t, err)
	assert.Empty(t, data)

	refs, err := blobs.List(ctx, "design/")
	require.NoError(t, err)
	assert.Equal(t, []string{"design/a", "design/b"}, refs)

	all, err := blobs.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, blobs.Delete(ctx, "design/a"))
	_, err = blobs.Get(ctx, "design/a")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
