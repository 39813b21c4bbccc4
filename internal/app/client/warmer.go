package client

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"medsync/internal/domain/document"
)

// Роли, для которых прогревается кэш.
const (
	RoleAdmin   = "admin"
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

// WarmScope — роль и ее скоуп-идентификаторы: что именно этой роли
// понадобится офлайн.
type WarmScope struct {
	Role       string
	HospitalID string
	DoctorID   string
	PatientID  string
}

// WarmResult — итог прогрева: сколько документов загружено по каждой коллекции.
type WarmResult struct {
	Loaded   map[string]int `json:"loaded"`
	Total    int            `json:"total"`
	Duration time.Duration  `json:"duration"`
}

// CacheWarmer проактивно наполняет кэш данными, которые роль будет ждать
// офлайн, независимо от того, что пользователь успел открыть. Не на пути
// записи: только bulk-чтение и upsert.
type CacheWarmer struct {
	store *Store
	api   *apiClient
	log   *slog.Logger

	mu      gosync.Mutex
	running map[string]bool
}

func NewCacheWarmer(store *Store, api *apiClient, log *slog.Logger) *CacheWarmer {
	return &CacheWarmer{
		store:   store,
		api:     api,
		log:     log,
		running: make(map[string]bool),
	}
}

type warmFetch struct {
	collection string
	filters    map[string]string
}

// plan возвращает список bulk-запросов для роли: по одному на коллекцию,
// с серверными фильтрами по скоупу.
func (w *CacheWarmer) plan(scope WarmScope) ([]warmFetch, error) {
	switch scope.Role {
	case RoleAdmin:
		if scope.HospitalID == "" {
			return nil, fmt.Errorf("для роли admin требуется hospitalId")
		}
		byHospital := map[string]string{"hospitalId": scope.HospitalID}
		return []warmFetch{
			{document.CollectionHospitals, map[string]string{"id": scope.HospitalID}},
			{document.CollectionDoctors, byHospital},
			{document.CollectionPatients, byHospital},
			{document.CollectionAppointments, byHospital},
			{document.CollectionBills, byHospital},
			{document.CollectionMedicalRecords, byHospital},
		}, nil
	case RoleDoctor:
		if scope.DoctorID == "" {
			return nil, fmt.Errorf("для роли doctor требуется doctorId")
		}
		byDoctor := map[string]string{"doctorId": scope.DoctorID}
		return []warmFetch{
			{document.CollectionDoctors, map[string]string{"id": scope.DoctorID}},
			{document.CollectionAppointments, byDoctor},
			{document.CollectionPatients, byDoctor},
			{document.CollectionMedicalRecords, byDoctor},
		}, nil
	case RolePatient:
		if scope.PatientID == "" {
			return nil, fmt.Errorf("для роли patient требуется patientId")
		}
		byPatient := map[string]string{"patientId": scope.PatientID}
		return []warmFetch{
			{document.CollectionPatients, map[string]string{"id": scope.PatientID}},
			{document.CollectionAppointments, byPatient},
			{document.CollectionBills, byPatient},
			{document.CollectionMedicalRecords, byPatient},
		}, nil
	default:
		return nil, fmt.Errorf("неизвестная роль: %q", scope.Role)
	}
}

// Warm выполняет прогрев кэша для роли. Повторный вызов для той же роли
// во время работающего прогрева отклоняется. Существующие данные кэша
// не очищаются: сбой сети не должен оставить пользователя с пустым кэшем.
func (w *CacheWarmer) Warm(ctx context.Context, scope WarmScope) (*WarmResult, error) {
	fetches, err := w.plan(scope)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.running[scope.Role] {
		w.mu.Unlock()
		return nil, fmt.Errorf("прогрев кэша для роли %q уже выполняется", scope.Role)
	}
	w.running[scope.Role] = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.running, scope.Role)
		w.mu.Unlock()
	}()

	start := time.Now()
	result := &WarmResult{Loaded: make(map[string]int)}

	for _, f := range fetches {
		docs, err := w.api.Query(ctx, f.collection, f.filters)
		if err != nil {
			// Уже загруженные коллекции остаются в кэше, прогрев прерывается.
			return result, fmt.Errorf("ошибка прогрева коллекции %s: %w", f.collection, err)
		}

		syncedAt := time.Now().UTC()
		for _, doc := range docs {
			// Отложенную локальную правку прогрев не перетирает —
			// ее судьбу решит движок репликации.
			if local, err := w.store.FindByID(ctx, f.collection, doc.ID); err == nil &&
				local.SyncStatus != document.StatusSynced {
				continue
			}

			doc.SyncStatus = document.StatusSynced
			doc.Meta = document.Meta{CreatedAt: doc.CreatedAt, SyncedAt: &syncedAt}
			if err := w.store.Upsert(ctx, f.collection, doc); err != nil {
				return result, fmt.Errorf("ошибка записи документа при прогреве %s: %w", f.collection, err)
			}
		}

		result.Loaded[f.collection] += len(docs)
		result.Total += len(docs)

		w.log.Debug("Коллекция прогрета",
			"collection", f.collection,
			"count", len(docs),
		)
	}

	result.Duration = time.Since(start)
	w.log.Info("Прогрев кэша завершен",
		"role", scope.Role,
		"total", result.Total,
		"duration", result.Duration,
	)
	return result, nil
}
