package objectstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	payload := []byte("archive bytes")
	key := "cust-1/cont-1/20250829-020000-daily.tar.gz"
	require.NoError(t, fs.Put(ctx, key, bytes.NewReader(payload), int64(len(payload))))

	rc, err := fs.Get(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, got)

	require.NoError(t, fs.Delete(ctx, key))
	_, err = fs.Get(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestFileStoreDeleteMissingIsNoop(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, fs.Delete(context.Background(), "never/existed.tar.gz"))
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	err = fs.Put(context.Background(), "../escape.tar.gz", bytes.NewReader(nil), 0)
	assert.Error(t, err)
}
