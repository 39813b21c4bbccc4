package client

import (
	"context"
	"time"

	"medsync/internal/domain/document"
)

// PendingTracker — поверхность запросов над хранилищем, отвечающая на вопрос
// "что еще не дошло до сервера". Отдельного стораджа нет: состояние живет
// в syncStatus и meta самих документов.
type PendingTracker struct {
	store    *Store
	registry *document.Registry
	now      func() time.Time
}

func NewPendingTracker(store *Store, registry *document.Registry) *PendingTracker {
	return &PendingTracker{
		store:    store,
		registry: registry,
		now:      time.Now,
	}
}

// PendingIn возвращает документы коллекции с meta.pending = true
// (эквивалентно syncStatus != synced).
func (t *PendingTracker) PendingIn(ctx context.Context, collection string) ([]*document.Document, error) {
	return t.store.Find(ctx, collection, Selector{"meta.pending": true})
}

// MarkSynced снимает флаг ожидания и проставляет meta.syncedAt.
func (t *PendingTracker) MarkSynced(ctx context.Context, collection, id string) error {
	doc, err := t.store.FindByID(ctx, collection, id)
	if err != nil {
		return err
	}

	syncedAt := t.now().UTC()
	meta := doc.Meta
	meta.Pending = false
	meta.Offline = false
	meta.SyncedAt = &syncedAt

	return t.store.SetSyncState(ctx, collection, id, document.StatusSynced, meta)
}

// MarkFailed помечает документ как неудачно отправленный; он останется
// в выборке pending-запросов и будет виден в счетчике.
func (t *PendingTracker) MarkFailed(ctx context.Context, collection, id string) error {
	doc, err := t.store.FindByID(ctx, collection, id)
	if err != nil {
		return err
	}

	meta := doc.Meta
	meta.Pending = true

	return t.store.SetSyncState(ctx, collection, id, document.StatusFailed, meta)
}

// CountAllPending — суммарное число несинхронизированных документов по всем
// коллекциям. Питает бейдж в интерфейсе, в логике синхронизации не участвует.
func (t *PendingTracker) CountAllPending(ctx context.Context) (int, error) {
	total := 0
	for _, collection := range t.registry.Collections() {
		n, err := t.store.CountPending(ctx, collection)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// CountByCollection возвращает число несинхронизированных документов
// отдельно по каждой коллекции.
func (t *PendingTracker) CountByCollection(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	for _, collection := range t.registry.Collections() {
		n, err := t.store.CountPending(ctx, collection)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out[collection] = n
		}
	}
	return out, nil
}
