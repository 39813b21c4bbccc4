package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"medsync/internal/domain/document"
)

// WriteGateway — единственный путь, которым пользовательские изменения
// попадают в состояние (локальное или удаленное). Онлайн — пишем на сервер
// и зеркалим канонический ответ в кэш; офлайн — кладем в кэш как pending,
// сеть не трогаем вовсе.
type WriteGateway struct {
	store    *Store
	api      *apiClient
	monitor  *NetworkMonitor
	registry *document.Registry
	log      *slog.Logger
	notify   SignalFunc
	now      func() time.Time
}

func NewWriteGateway(store *Store, api *apiClient, monitor *NetworkMonitor, registry *document.Registry, log *slog.Logger, notify SignalFunc) *WriteGateway {
	return &WriteGateway{
		store:    store,
		api:      api,
		monitor:  monitor,
		registry: registry,
		log:      log,
		notify:   notify,
		now:      time.Now,
	}
}

// SubmitOptions — параметры записи. ExistingID задан для правки существующего
// документа (серверного или еще не отправленного офлайн-создания).
type SubmitOptions struct {
	ExistingID string
}

// Submit проводит одну пользовательскую запись. Payload валидируется по схеме
// коллекции до любого побочного эффекта; невалидный отклоняется сразу.
func (g *WriteGateway) Submit(ctx context.Context, collection string, payload map[string]any, opts SubmitOptions) (*document.Document, error) {
	schema, err := g.registry.Get(collection)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateFields(payload); err != nil {
		return nil, err
	}

	if g.monitor.Online() {
		doc, err := g.submitOnline(ctx, collection, payload, opts)
		if err == nil {
			return doc, nil
		}
		if !isTransient(err) {
			// Онлайн-отказ — это валидация или права, а не связь.
			// Не откладываем молча, отдаем вызывающему.
			return nil, err
		}
		// Сервер оказался недоступен посреди записи: фиксируем офлайн
		// и сохраняем локально, как если бы сети не было с самого начала.
		g.log.Warn("Сервер недоступен во время записи, сохраняем локально",
			"collection", collection,
			"error", err,
		)
		g.monitor.SetOnline(false)
	}

	return g.submitOffline(ctx, collection, payload, opts)
}

func (g *WriteGateway) submitOnline(ctx context.Context, collection string, payload map[string]any, opts SubmitOptions) (*document.Document, error) {
	now := g.now().UTC()

	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["updatedAt"] = now.Format(time.RFC3339Nano)

	var (
		remote *document.Document
		err    error
	)
	if opts.ExistingID != "" && !document.IsOfflineID(opts.ExistingID) {
		remote, err = g.api.Update(ctx, collection, opts.ExistingID, body)
		if errors.Is(err, document.ErrConflict) {
			return g.resolveStale(ctx, collection, opts.ExistingID, payload, now)
		}
	} else {
		createdAt := now
		idemKey := ""
		if document.IsOfflineID(opts.ExistingID) {
			// Правка офлайн-созданного документа при живой сети: создаем
			// на сервере сразу; временный идентификатор служит ключом
			// идемпотентности, чтобы последующий пуш не породил дубль.
			idemKey = opts.ExistingID
			if existing, findErr := g.store.FindByID(ctx, collection, opts.ExistingID); findErr == nil {
				createdAt = existing.CreatedAt
			}
		}
		body["createdAt"] = createdAt.Format(time.RFC3339Nano)
		remote, err = g.api.Create(ctx, collection, body, idemKey)
	}
	if err != nil {
		return nil, err
	}

	// Зеркалим каноническую серверную версию в кэш.
	remote.SyncStatus = document.StatusSynced
	syncedAt := g.now().UTC()
	remote.Meta = document.Meta{CreatedAt: remote.CreatedAt, SyncedAt: &syncedAt}

	if err := g.store.Upsert(ctx, collection, remote); err != nil {
		return nil, fmt.Errorf("запись принята сервером, но не отражена в кэше: %w", err)
	}

	// Временный документ вытеснен канонической серверной версией;
	// оставшись в кэше, он ушел бы в пуше вторым экземпляром.
	if document.IsOfflineID(opts.ExistingID) && opts.ExistingID != remote.ID {
		if err := g.store.Remove(ctx, collection, opts.ExistingID); err != nil {
			return nil, fmt.Errorf("запись принята сервером, но временный документ не удален: %w", err)
		}
	}

	g.notify.emit(Signal{Kind: SignalSaved, Collection: collection, ID: remote.ID})
	return remote, nil
}

// resolveStale разрешает отказ сервера по устареванию тем же правилом,
// что и пуш: побеждает более свежая версия. Конфликт не отдается
// вызывающему как ошибка.
func (g *WriteGateway) resolveStale(ctx context.Context, collection, id string, payload map[string]any, attemptedAt time.Time) (*document.Document, error) {
	server, err := g.api.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	attempted := &document.Document{ID: id, Fields: payload, UpdatedAt: attemptedAt}
	if document.Resolve(attempted, server) == attempted {
		// Наша правка свежее серверной копии: остается в кэше как pending,
		// репликация доставит ее следующим пушем.
		return g.submitOffline(ctx, collection, payload, SubmitOptions{ExistingID: id})
	}

	syncedAt := g.now().UTC()
	server.SyncStatus = document.StatusSynced
	server.Meta = document.Meta{CreatedAt: server.CreatedAt, SyncedAt: &syncedAt}
	if err := g.store.Upsert(ctx, collection, server); err != nil {
		return nil, err
	}

	g.log.Info("Правка устарела, принята серверная версия",
		"collection", collection,
		"id", id,
	)
	g.notify.emit(Signal{Kind: SignalSaved, Collection: collection, ID: id})
	return server, nil
}

func (g *WriteGateway) submitOffline(ctx context.Context, collection string, payload map[string]any, opts SubmitOptions) (*document.Document, error) {
	now := g.now().UTC()

	id := opts.ExistingID
	createdAt := now
	if id == "" {
		id = document.NewOfflineID(now)
	} else if existing, err := g.store.FindByID(ctx, collection, id); err == nil {
		createdAt = existing.CreatedAt
	}

	doc := &document.Document{
		ID:         id,
		Fields:     payload,
		CreatedAt:  createdAt,
		UpdatedAt:  now,
		SyncStatus: document.StatusPending,
		Meta: document.Meta{
			Offline:   true,
			Pending:   true,
			CreatedAt: now,
		},
	}

	// Upsert по идентификатору: повторный Submit с тем же временным id
	// не создаст второй локальный документ.
	if err := g.store.Upsert(ctx, collection, doc); err != nil {
		return nil, err
	}

	g.log.Info("Запись сохранена офлайн",
		"collection", collection,
		"id", id,
	)
	g.notify.emit(Signal{Kind: SignalSavedOffline, Collection: collection, ID: id})
	return doc, nil
}

// Delete удаляет документ на сервере и в кэше. Офлайн-удаление не
// поддерживается: надгробий в этой схеме нет, вызывающему возвращается
// ErrOfflineDelete.
func (g *WriteGateway) Delete(ctx context.Context, collection, id string) error {
	if document.IsOfflineID(id) {
		// Документ еще не существует на сервере — достаточно убрать из кэша.
		return g.store.Remove(ctx, collection, id)
	}

	if !g.monitor.Online() {
		return document.ErrOfflineDelete
	}

	if err := g.api.Delete(ctx, collection, id); err != nil {
		if isTransient(err) {
			g.monitor.SetOnline(false)
			return document.ErrOfflineDelete
		}
		return err
	}

	return g.store.Remove(ctx, collection, id)
}
