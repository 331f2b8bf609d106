package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lawdata-collector/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDirectory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "archive", "pages")
		store, err := local.New(dir)
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(" ")
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(file)
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(dir)
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "pages/laws/c-1/page-0001-abc.json", "application/json", strings.NewReader(`{"law":[]}`))
	require.NoError(t, err)

	want := filepath.Join(dir, "pages", "laws", "c-1", "page-0001-abc.json")
	assert.Equal(t, "file://"+filepath.ToSlash(want), uri)
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, `{"law":[]}`, string(got))

	entries, err := os.ReadDir(filepath.Dir(want))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPutObjectRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(t.TempDir())
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../outside.json", "", strings.NewReader("{}"))
	assert.Error(t, err)
	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("{}"))
	assert.Error(t, err)
}
