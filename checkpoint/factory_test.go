package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminachat/chatflow/config"
)

func TestNewStore_Backends(t *testing.T) {
	t.Run("memory by default", func(t *testing.T) {
		store, err := NewStore(config.CheckpointConfig{})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("memory", func(t *testing.T) {
		store, err := NewStore(config.CheckpointConfig{Backend: "memory"})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
	})

	t.Run("file", func(t *testing.T) {
		store, err := NewStore(config.CheckpointConfig{Backend: "file", Dir: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &FileStore{}, store)
	})

	t.Run("database", func(t *testing.T) {
		store, err := NewStore(config.CheckpointConfig{
			Backend: "database",
			Path:    filepath.Join(t.TempDir(), "cp.db"),
		})
		require.NoError(t, err)
		assert.IsType(t, &DatabaseStore{}, store)
		store.Close()
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewStore(config.CheckpointConfig{Backend: "carrier-pigeon"})
		assert.Error(t, err)
	})
}

func TestMustNewStore_PanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		MustNewStore(config.CheckpointConfig{Backend: "carrier-pigeon"})
	})
}
