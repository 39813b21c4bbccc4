package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsync/internal/domain/document"
	"medsync/internal/utils/logger"
)

func TestStoreUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("insert then replace by id", func(t *testing.T) {
		doc := testAppointment("appt_1", now)
		require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, doc))

		edited := doc.Clone()
		edited.Fields["status"] = "Cancelled"
		edited.UpdatedAt = now.Add(time.Minute)
		require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, edited))

		got, err := store.FindByID(ctx, document.CollectionAppointments, "appt_1")
		require.NoError(t, err)
		assert.Equal(t, "Cancelled", got.Fields["status"])

		all, err := store.Find(ctx, document.CollectionAppointments, nil)
		require.NoError(t, err)
		assert.Len(t, all, 1, "upsert не должен создавать дубликатов")
	})

	t.Run("idempotent with identical document", func(t *testing.T) {
		doc := testAppointment("appt_2", now)
		require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, doc))
		require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, doc))

		got, err := store.FindByID(ctx, document.CollectionAppointments, "appt_2")
		require.NoError(t, err)
		assert.Equal(t, "Scheduled", got.Fields["status"])
		assert.True(t, got.UpdatedAt.Equal(doc.UpdatedAt))

		all, err := store.Find(ctx, document.CollectionAppointments, Selector{"id": "appt_2"})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("schema violation rejected", func(t *testing.T) {
		doc := testAppointment("appt_3", now)
		delete(doc.Fields, "patientId")
		err := store.Upsert(ctx, document.CollectionAppointments, doc)
		assert.ErrorIs(t, err, document.ErrSchemaViolation)

		_, err = store.FindByID(ctx, document.CollectionAppointments, "appt_3")
		assert.ErrorIs(t, err, document.ErrNotFound)
	})

	t.Run("unknown collection rejected", func(t *testing.T) {
		err := store.Upsert(ctx, "ambulances", testAppointment("a", now))
		assert.ErrorIs(t, err, document.ErrUnknownCollection)
	})
}

func TestStoreFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	synced := testAppointment("appt_1", now)
	require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, synced))

	pending := testAppointment("offline_1700000000000_ab12cd34", now.Add(time.Minute))
	pending.SyncStatus = document.StatusPending
	pending.Meta = document.Meta{Offline: true, Pending: true, CreatedAt: now}
	pending.Fields["doctorId"] = "doc_2"
	require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, pending))

	t.Run("by syncStatus", func(t *testing.T) {
		docs, err := store.Find(ctx, document.CollectionAppointments, Selector{"syncStatus": "pending"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, pending.ID, docs[0].ID)
	})

	t.Run("by foreign key field", func(t *testing.T) {
		docs, err := store.Find(ctx, document.CollectionAppointments, Selector{"doctorId": "doc_2"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, pending.ID, docs[0].ID)
	})

	t.Run("by meta.pending flag", func(t *testing.T) {
		docs, err := store.Find(ctx, document.CollectionAppointments, Selector{"meta.pending": true})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, pending.ID, docs[0].ID)
	})

	t.Run("ordered by updatedAt", func(t *testing.T) {
		docs, err := store.Find(ctx, document.CollectionAppointments, nil)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "appt_1", docs[0].ID)
	})

	t.Run("empty result", func(t *testing.T) {
		docs, err := store.Find(ctx, document.CollectionAppointments, Selector{"doctorId": "doc_999"})
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestStoreSyncState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	doc := testAppointment("appt_1", now)
	doc.SyncStatus = document.StatusPending
	doc.Meta = document.Meta{Offline: true, Pending: true, CreatedAt: now}
	require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, doc))

	unsynced, err := store.ListUnsynced(ctx, document.CollectionAppointments)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)

	syncedAt := now.Add(time.Minute)
	meta := document.Meta{CreatedAt: now, SyncedAt: &syncedAt}
	require.NoError(t, store.SetSyncState(ctx, document.CollectionAppointments, "appt_1", document.StatusSynced, meta))

	got, err := store.FindByID(ctx, document.CollectionAppointments, "appt_1")
	require.NoError(t, err)
	assert.Equal(t, document.StatusSynced, got.SyncStatus)
	require.NotNil(t, got.Meta.SyncedAt)
	// Доменные поля не перезаписываются.
	assert.Equal(t, "Scheduled", got.Fields["status"])

	count, err := store.CountPending(ctx, document.CollectionAppointments)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t,
		store.SetSyncState(ctx, document.CollectionAppointments, "ghost", document.StatusSynced, meta),
		document.ErrNotFound)
}

func TestStoreListByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := testAppointment("appt_1", now)
	pending.SyncStatus = document.StatusPending
	require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, pending))

	failed := testAppointment("appt_2", now.Add(time.Second))
	failed.SyncStatus = document.StatusFailed
	require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, failed))

	require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, testAppointment("appt_3", now.Add(2*time.Second))))

	onlyPending, err := store.ListByStatus(ctx, document.CollectionAppointments, document.StatusPending)
	require.NoError(t, err)
	require.Len(t, onlyPending, 1)
	assert.Equal(t, "appt_1", onlyPending[0].ID)

	both, err := store.ListByStatus(ctx, document.CollectionAppointments, document.StatusPending, document.StatusFailed)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	none, err := store.ListByStatus(ctx, document.CollectionAppointments)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreRemoveAndClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, testAppointment("appt_1", now)))
	require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, testAppointment("appt_2", now)))

	require.NoError(t, store.Remove(ctx, document.CollectionAppointments, "appt_1"))
	_, err := store.FindByID(ctx, document.CollectionAppointments, "appt_1")
	assert.ErrorIs(t, err, document.ErrNotFound)

	require.NoError(t, store.Clear(ctx, document.CollectionAppointments))
	docs, err := store.Find(ctx, document.CollectionAppointments, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)

	// Remove несуществующего — не ошибка.
	assert.NoError(t, store.Remove(ctx, document.CollectionAppointments, "ghost"))
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	store, err := OpenStore(path, document.DefaultRegistry(), logger.Discard())
	require.NoError(t, err)

	doc := testAppointment("offline_1700000000000_ab12cd34", now)
	doc.SyncStatus = document.StatusPending
	doc.Meta = document.Meta{Offline: true, Pending: true, CreatedAt: now}
	require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, doc))
	require.NoError(t, store.Close())

	// Созданный офлайн документ переживает перезапуск и остается pending
	// с временным идентификатором, пока движок репликации не отработает.
	reopened, err := OpenStore(path, document.DefaultRegistry(), logger.Discard())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.FindByID(ctx, document.CollectionAppointments, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusPending, got.SyncStatus)
	assert.True(t, document.IsOfflineID(got.ID))
	assert.True(t, got.Meta.Pending)
}
