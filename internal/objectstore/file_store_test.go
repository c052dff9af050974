package objectstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "artifacts")

	store, err := objectstore.NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "job-1.wav", []byte("RIFF1")))
	require.NoError(t, store.Upload(ctx, "job-1.wav", []byte("RIFF2")))

	data, err := store.Download(ctx, "job-1.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF2"), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")

	require.NoError(t, store.Delete(ctx, "job-1.wav"))
	require.NoError(t, store.Delete(ctx, "job-1.wav"))

	_, err = store.Download(ctx, "job-1.wav")
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestFileStore_RejectsUnsafeKeys(t *testing.T) {
	t.Parallel()

	store, err := objectstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	for _, key := range []string{"", "../escape.wav", "nested/key.wav", ".hidden", ".."} {
		require.ErrorIs(t, store.Upload(ctx, key, []byte("x")), objectstore.ErrInvalidKey, key)

		_, err = store.Download(ctx, key)
		require.ErrorIs(t, err, objectstore.ErrInvalidKey, key)
	}
}
