// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaptermill/chaptermill/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		cfg := local.Config{BaseDir: tempDir}
		store, err := local.New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		cfg := local.Config{}
		_, err := local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		cfg := local.Config{BaseDir: tempFile.Name()}
		_, err = local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		tempDir := t.TempDir()
		// Change permissions to read-only
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		err := os.Chmod(tempDir, 0o500)
		require.NoError(t, err)

		cfg := local.Config{BaseDir: tempDir}
		_, err = local.New(cfg)
		assert.Error(t, err)

		// Change back to writable so cleanup can happen
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		err = os.Chmod(tempDir, 0o700)
		require.NoError(t, err)
	})
}

func TestPut(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		key := "chapters/0001.html"
		data := []byte("<h1>First</h1>")
		uri, err := store.Put(context.Background(), key, "text/html; charset=utf-8", data)
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, key)
		assert.Equal(t, expectedURI, uri)

		// Verify the file was written correctly.
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, key))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := store.Put(context.Background(), "", "text/html", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("TraversalRejected", func(t *testing.T) {
		_, err := store.Put(context.Background(), "../escape.html", "text/html", []byte("data"))
		assert.Error(t, err)
	})
}

func TestGet(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	key := "chapters/0002.html"
	data := []byte("<h1>Second</h1>\n<p>Body.</p>")
	_, err = store.Put(context.Background(), key, "text/html", data)
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		got, err := store.Get(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("MissingWrapsNotExist", func(t *testing.T) {
		_, err := store.Get(context.Background(), "chapters/9999.html")
		require.Error(t, err)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})
}

func TestDelete(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	key := "chapters/0003.html"
	_, err = store.Put(context.Background(), key, "text/html", []byte("gone soon"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), key))
	_, err = os.Stat(filepath.Join(tempDir, key))
	assert.True(t, os.IsNotExist(err))

	// Deleting again must not fail.
	assert.NoError(t, store.Delete(context.Background(), key))
}
