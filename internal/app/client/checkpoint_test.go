package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsync/internal/domain/document"
)

func TestCheckpointStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	cps := NewCheckpointStore(path)

	t.Run("missing collection returns zero checkpoint", func(t *testing.T) {
		cp, err := cps.Get(document.CollectionPatients)
		require.NoError(t, err)
		assert.True(t, cp.Checkpoint.IsZero())
		assert.Equal(t, document.CollectionPatients, cp.Collection)
	})

	t.Run("set and get", func(t *testing.T) {
		mark := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, cps.Set(Checkpoint{
			Collection: document.CollectionPatients,
			LastSync:   mark.Add(time.Second),
			Checkpoint: mark,
		}))

		cp, err := cps.Get(document.CollectionPatients)
		require.NoError(t, err)
		assert.True(t, cp.Checkpoint.Equal(mark))
	})

	t.Run("survives new instance", func(t *testing.T) {
		cp, err := NewCheckpointStore(path).Get(document.CollectionPatients)
		require.NoError(t, err)
		assert.False(t, cp.Checkpoint.IsZero())
	})

	t.Run("independent per collection", func(t *testing.T) {
		cp, err := cps.Get(document.CollectionBills)
		require.NoError(t, err)
		assert.True(t, cp.Checkpoint.IsZero())
	})

	t.Run("reset clears everything", func(t *testing.T) {
		require.NoError(t, cps.Reset())
		cp, err := cps.Get(document.CollectionPatients)
		require.NoError(t, err)
		assert.True(t, cp.Checkpoint.IsZero())
		// Повторный сброс пустого файла — не ошибка.
		assert.NoError(t, cps.Reset())
	})
}
