package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/eloc-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_StoreFetch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	backend, err := NewFileBackend(dir, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.True(t, backend.Available(ctx))

	data := []byte("Serial,devEUI,appKey,nwkKey,hw_gen,hw_rev,timestamp\n")
	id, err := backend.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	fi, err := os.Stat(filepath.Join(dir, id.String()+".csv"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	fetched, err := backend.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)

	_, err = backend.Fetch(ctx, interfaces.ComputeID([]byte("other")))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	assert.Equal(t, "file-archive", backend.Name())
	assert.Equal(t, "file://"+dir, backend.LocationURI())
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(testLogger())
	dir := t.TempDir()

	t.Run("file", func(t *testing.T) {
		backend, err := factory.StorageBackendFor(interfaces.StorageBackendLocation("file://" + dir + "/a"))
		require.NoError(t, err)
		assert.IsType(t, &FileBackend{}, backend)
	})

	t.Run("s3", func(t *testing.T) {
		backend, err := factory.StorageBackendFor("s3://key:secret@eloc-factory/audit/?region=eu-central-1")
		require.NoError(t, err)
		require.IsType(t, &S3Backend{}, backend)
		assert.Equal(t, "s3-eloc-factory", backend.Name())
		assert.NotContains(t, backend.LocationURI(), "secret")
	})

	t.Run("vault", func(t *testing.T) {
		backend, err := factory.StorageBackendFor("vault://vault.factory.local:8200/secret/eloc/audit")
		require.NoError(t, err)
		require.IsType(t, &VaultBackend{}, backend)
		assert.Equal(t, "vault-secret-eloc/audit", backend.Name())
		assert.Equal(t, "vault://vault.factory.local:8200/secret/eloc/audit", backend.LocationURI())
	})

	t.Run("vault without mount", func(t *testing.T) {
		_, err := factory.StorageBackendFor("vault://vault.factory.local:8200/")
		assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
	})

	t.Run("vault cert without key", func(t *testing.T) {
		_, err := factory.StorageBackendFor("vault://vault.factory.local:8200/secret?cert=client.pem")
		assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := factory.StorageBackendFor("ipfs://localhost:5001/")
		assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
	})

	t.Run("missing bucket", func(t *testing.T) {
		_, err := factory.StorageBackendFor("s3:///prefix")
		assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
	})

	t.Run("multi backend", func(t *testing.T) {
		backend, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
			interfaces.StorageBackendLocation("file://" + dir + "/b"),
			interfaces.StorageBackendLocation("file://" + dir + "/c"),
		})
		require.NoError(t, err)

		data := []byte("row\n")
		id, err := backend.Store(context.Background(), data)
		require.NoError(t, err)

		for _, sub := range []string{"b", "c"} {
			_, err := os.Stat(filepath.Join(dir, sub, id.String()+".csv"))
			assert.NoError(t, err)
		}
	})

	t.Run("multi backend rejects invalid location", func(t *testing.T) {
		_, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
			interfaces.StorageBackendLocation("file://" + dir + "/d"),
			"gopher://nowhere",
		})
		assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
	})
}
