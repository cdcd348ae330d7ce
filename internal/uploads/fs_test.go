package uploads

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "fileBatch-1.csv", strings.NewReader("ORGANISM ID\nA1\n")))

	rc, err := store.Open(ctx, "fileBatch-1.csv")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "ORGANISM ID\nA1\n", string(data))

	err = store.Put(ctx, "fileBatch-1.csv", strings.NewReader("again"))
	require.ErrorIs(t, err, ErrExists)
}

func TestFSStoreOpenMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "nope.csv")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"../etc/passwd", "/etc/passwd", " "} {
		_, err := store.Open(context.Background(), name)
		require.Error(t, err, name)
		require.NotErrorIs(t, err, ErrNotFound, name)
	}
}

func TestWithDirectoryOverridesFilesystemRoot(t *testing.T) {
	base, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	override := t.TempDir()

	store, err := WithDirectory(base, override)
	require.NoError(t, err)
	require.Equal(t, override, store.(*FSStore).Root())

	same, err := WithDirectory(base, "")
	require.NoError(t, err)
	require.Same(t, base, same)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "ftp"})
	require.Error(t, err)
}
