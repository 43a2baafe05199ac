package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, fs FileStore, name string) string {
	t.Helper()
	r, err := fs.Open(context.Background(), name)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestLocal_SaveOpenDelete(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(filepath.Join(t.TempDir(), "images"))
	require.NoError(t, err)

	require.NoError(t, l.Save(ctx, "cat.png", strings.NewReader("first")))
	assert.Equal(t, "first", readAll(t, l, "cat.png"))

	require.NoError(t, l.Save(ctx, "cat.png", strings.NewReader("second")))
	assert.Equal(t, "second", readAll(t, l, "cat.png"))

	ok, err := l.Exists(ctx, "cat.png")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(l.Root(), "cat.png"), l.Location("cat.png"))

	require.NoError(t, l.Delete(ctx, "cat.png"))
	require.NoError(t, l.Delete(ctx, "cat.png"))

	ok, err = l.Exists(ctx, "cat.png")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Open(ctx, "cat.png")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocal_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l.Save(ctx, "a.jpg", strings.NewReader("x")))

	entries, err := os.ReadDir(l.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.jpg", entries[0].Name())
}

func TestLocal_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", ".", "..", "../x.png", "a/b.png", `a\b.png`} {
		err := l.Save(ctx, name, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentType("a.png"))
	assert.Equal(t, "image/jpeg", ContentType("a.JPG"))
	assert.Equal(t, "application/octet-stream", ContentType("a.unknownext"))
}
