package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsync/internal/domain/document"
	"medsync/internal/utils/logger"
)

func newTestWarmer(t *testing.T, remote *fakeRemote) (*CacheWarmer, *Store) {
	t.Helper()

	store := newTestStore(t)
	srv := remote.server()
	api := newAPIClient(srv.URL, time.Second, logger.Discard())
	return NewCacheWarmer(store, api, logger.Discard()), store
}

func seedHospitalData(remote *fakeRemote) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	remote.put(document.CollectionHospitals, &document.Document{
		ID: "hosp_1", CreatedAt: base, UpdatedAt: base,
		SyncStatus: document.StatusSynced,
		Fields:     map[string]any{"name": "Центральная клиника"},
	})
	remote.put(document.CollectionDoctors, &document.Document{
		ID: "doc_1", CreatedAt: base, UpdatedAt: base,
		SyncStatus: document.StatusSynced,
		Fields:     map[string]any{"name": "Иванов И.И.", "hospitalId": "hosp_1"},
	})
	remote.put(document.CollectionDoctors, &document.Document{
		ID: "doc_2", CreatedAt: base, UpdatedAt: base,
		SyncStatus: document.StatusSynced,
		Fields:     map[string]any{"name": "Петров П.П.", "hospitalId": "hosp_2"},
	})
	remote.put(document.CollectionPatients, &document.Document{
		ID: "pat_1", CreatedAt: base, UpdatedAt: base,
		SyncStatus: document.StatusSynced,
		Fields:     map[string]any{"name": "Сидорова А.А.", "hospitalId": "hosp_1"},
	})
	remote.put(document.CollectionAppointments, testAppointment("apt_1", base))
	remote.put(document.CollectionBills, &document.Document{
		ID: "bill_1", CreatedAt: base, UpdatedAt: base,
		SyncStatus: document.StatusSynced,
		Fields: map[string]any{
			"patientId": "pat_1", "hospitalId": "hosp_1",
			"amount": float64(500), "status": "Unpaid",
		},
	})
}

func TestWarmerAdminScope(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	seedHospitalData(remote)
	warmer, store := newTestWarmer(t, remote)

	result, err := warmer.Warm(ctx, WarmScope{Role: RoleAdmin, HospitalID: "hosp_1"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Loaded[document.CollectionHospitals])
	assert.Equal(t, 1, result.Loaded[document.CollectionDoctors], "чужой врач отфильтрован по hospitalId")
	assert.Equal(t, 1, result.Loaded[document.CollectionPatients])
	assert.Equal(t, 1, result.Loaded[document.CollectionBills])

	doc, err := store.FindByID(ctx, document.CollectionDoctors, "doc_1")
	require.NoError(t, err)
	assert.Equal(t, document.StatusSynced, doc.SyncStatus)
	require.NotNil(t, doc.Meta.SyncedAt)

	_, err = store.FindByID(ctx, document.CollectionDoctors, "doc_2")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestWarmerPatientScope(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	seedHospitalData(remote)
	warmer, store := newTestWarmer(t, remote)

	result, err := warmer.Warm(ctx, WarmScope{Role: RolePatient, PatientID: "pat_1"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Loaded[document.CollectionPatients])
	assert.Equal(t, 1, result.Loaded[document.CollectionAppointments])
	assert.Equal(t, 1, result.Loaded[document.CollectionBills])
	// Пациенту не грузятся чужие коллекции.
	assert.NotContains(t, result.Loaded, document.CollectionDoctors)
	assert.NotContains(t, result.Loaded, document.CollectionHospitals)

	_, err = store.FindByID(ctx, document.CollectionBills, "bill_1")
	assert.NoError(t, err)
}

func TestWarmerScopeValidation(t *testing.T) {
	remote := newFakeRemote(t)
	warmer, _ := newTestWarmer(t, remote)

	_, err := warmer.Warm(context.Background(), WarmScope{Role: RoleAdmin})
	require.Error(t, err)

	_, err = warmer.Warm(context.Background(), WarmScope{Role: "janitor"})
	require.Error(t, err)
}

func TestWarmerPreservesPendingEdits(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	seedHospitalData(remote)
	warmer, store := newTestWarmer(t, remote)

	// Локальная несинхронизированная правка приема.
	now := time.Now().UTC()
	local := testAppointment("apt_1", now)
	local.Fields["status"] = "Cancelled"
	local.SyncStatus = document.StatusPending
	local.Meta = document.Meta{Pending: true, CreatedAt: now}
	require.NoError(t, store.Upsert(ctx, document.CollectionAppointments, local))

	_, err := warmer.Warm(ctx, WarmScope{Role: RoleAdmin, HospitalID: "hosp_1"})
	require.NoError(t, err)

	// Прогрев не перетирает отложенную правку серверной версией.
	doc, err := store.FindByID(ctx, document.CollectionAppointments, "apt_1")
	require.NoError(t, err)
	assert.Equal(t, document.StatusPending, doc.SyncStatus)
	assert.Equal(t, "Cancelled", doc.Fields["status"])
}

func TestWarmerKeepsCacheOnFailure(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	seedHospitalData(remote)
	warmer, store := newTestWarmer(t, remote)

	_, err := warmer.Warm(ctx, WarmScope{Role: RoleAdmin, HospitalID: "hosp_1"})
	require.NoError(t, err)

	remote.mu.Lock()
	remote.down = true
	remote.mu.Unlock()

	// Повторный прогрев при обрыве сети не опустошает кэш.
	_, err = warmer.Warm(ctx, WarmScope{Role: RoleAdmin, HospitalID: "hosp_1"})
	require.Error(t, err)

	_, err = store.FindByID(ctx, document.CollectionDoctors, "doc_1")
	assert.NoError(t, err)
}
