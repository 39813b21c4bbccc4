package client

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"medsync/internal/domain/document"
)

// ReplState — состояние цикла репликации коллекции.
type ReplState string

const (
	StateIdle    ReplState = "idle"
	StatePulling ReplState = "pulling"
	StatePushing ReplState = "pushing"
	StateError   ReplState = "error"
)

// ReplicatorConfig — настройки движка репликации.
type ReplicatorConfig struct {
	BatchSize   int
	SettleDelay time.Duration // пауза после восстановления сети против дребезга
	Interval    time.Duration // период фоновой синхронизации, 0 — отключена
	RetryBase   time.Duration // базовая задержка экспоненциального бэкоффа
	RetryMax    time.Duration // потолок бэкоффа
}

// SyncError — ошибка одного документа или фазы внутри цикла.
// Transient отличает сбои связи (повторяются с бэкоффом) от отказов
// по существу (документ помечен failed и ждет ручного запуска).
type SyncError struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id,omitempty"`
	Operation  string    `json:"operation"`
	Error      string    `json:"error"`
	Transient  bool      `json:"transient,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SyncResult — итог одного цикла синхронизации.
type SyncResult struct {
	Success   bool          `json:"success"`
	Pulled    int           `json:"pulled"`
	Pushed    int           `json:"pushed"`
	Conflicts int           `json:"conflicts"`
	Failed    int           `json:"failed"`
	Errors    []SyncError   `json:"errors"`
	Duration  time.Duration `json:"duration"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

// SyncStats — накопленная статистика синхронизаций.
type SyncStats struct {
	TotalSyncs      int       `json:"total_syncs"`
	LastSuccessful  time.Time `json:"last_successful"`
	LastFailed      time.Time `json:"last_failed"`
	TotalPulled     int       `json:"total_pulled"`
	TotalPushed     int       `json:"total_pushed"`
	TotalConflicts  int       `json:"total_conflicts"`
	TotalErrors     int       `json:"total_errors"`
	AvgSyncDuration float64   `json:"avg_sync_duration"`
}

// Replicator — фоновый процесс непрерывной сверки кэша с сервером:
// пулл изменений с контрольной точки, затем пуш отложенных правок,
// для каждой коллекции независимо. Внутри коллекции фазы строго
// последовательны, между коллекциями — параллельны.
type Replicator struct {
	store       *Store
	api         *apiClient
	tracker     *PendingTracker
	checkpoints *CheckpointStore
	monitor     *NetworkMonitor
	registry    *document.Registry
	log         *slog.Logger
	cfg         ReplicatorConfig
	notify      SignalFunc

	mu        gosync.Mutex
	isSyncing bool
	stats     SyncStats
	states    map[string]ReplState
	attempts  int
	retryTm   *time.Timer

	cycleMu     gosync.Mutex
	cycleCancel context.CancelFunc

	collMu map[string]*gosync.Mutex

	stopOnce gosync.Once
	stop     chan struct{}
	wg       gosync.WaitGroup
}

func NewReplicator(store *Store, api *apiClient, tracker *PendingTracker, checkpoints *CheckpointStore, monitor *NetworkMonitor, registry *document.Registry, cfg ReplicatorConfig, log *slog.Logger, notify SignalFunc) *Replicator {
	states := make(map[string]ReplState)
	collMu := make(map[string]*gosync.Mutex)
	for _, c := range registry.Collections() {
		states[c] = StateIdle
		collMu[c] = &gosync.Mutex{}
	}

	return &Replicator{
		store:       store,
		api:         api,
		tracker:     tracker,
		checkpoints: checkpoints,
		monitor:     monitor,
		registry:    registry,
		log:         log,
		cfg:         cfg,
		notify:      notify,
		states:      states,
		collMu:      collMu,
		stop:        make(chan struct{}),
	}
}

// Start запускает фоновые триггеры: переход offline→online (с паузой
// устаканивания) и, если настроен интервал, периодический тикер.
// Переход online→offline отменяет текущий цикл.
func (r *Replicator) Start(ctx context.Context) {
	events := r.monitor.Subscribe()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		var tick <-chan time.Time
		if r.cfg.Interval > 0 {
			ticker := time.NewTicker(r.cfg.Interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case online := <-events:
				if !online {
					r.abortCycle()
					continue
				}
				// Пауза устаканивания: не гонимся за дребезжащим соединением.
				select {
				case <-time.After(r.cfg.SettleDelay):
				case <-ctx.Done():
					return
				case <-r.stop:
					return
				}
				if r.monitor.Online() {
					r.runCycle(ctx)
				}
			case <-tick:
				if r.monitor.Online() {
					r.runCycle(ctx)
				}
			}
		}
	}()
}

// Stop останавливает фоновые триггеры и текущий цикл.
func (r *Replicator) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.abortCycle()
	r.mu.Lock()
	if r.retryTm != nil {
		r.retryTm.Stop()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Replicator) abortCycle() {
	r.cycleMu.Lock()
	if r.cycleCancel != nil {
		r.cycleCancel()
	}
	r.cycleMu.Unlock()
}

// runCycle выполняет фоновый цикл и планирует повтор с бэкоффом при
// временном сбое. Failed-документы фоновые циклы не трогают: отказ по
// существу не лечится повторами, только ручным запуском после правки.
func (r *Replicator) runCycle(ctx context.Context) {
	result, err := r.syncAll(ctx, false)
	if err != nil {
		return // цикл уже идет или сеть пропала до старта
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if result.Success {
		r.attempts = 0
		return
	}

	transient := false
	for _, e := range result.Errors {
		if e.Transient {
			transient = true
			break
		}
	}
	if !transient {
		// Все ошибки цикла — отказы по существу: документы уже помечены
		// failed, автоповтор ничего не изменит.
		r.attempts = 0
		return
	}

	// Временный сбой: повторяем с экспоненциальным бэкоффом.
	r.attempts++
	delay := r.cfg.RetryBase << (r.attempts - 1)
	if delay > r.cfg.RetryMax || delay <= 0 {
		delay = r.cfg.RetryMax
	}
	r.log.Info("Цикл синхронизации завершился с ошибками, повтор отложен",
		"attempt", r.attempts,
		"delay", delay,
	)
	if r.retryTm != nil {
		r.retryTm.Stop()
	}
	r.retryTm = time.AfterFunc(delay, func() {
		select {
		case <-r.stop:
			return
		default:
		}
		if r.monitor.Online() {
			r.runCycle(ctx)
		}
	})
}

// SyncAll — один полный цикл по всем коллекциям, ручной триггер.
// В отличие от фоновых циклов повторяет и failed-документы.
func (r *Replicator) SyncAll(ctx context.Context) (*SyncResult, error) {
	return r.syncAll(ctx, true)
}

func (r *Replicator) syncAll(ctx context.Context, retryFailed bool) (*SyncResult, error) {
	r.mu.Lock()
	if r.isSyncing {
		r.mu.Unlock()
		return nil, fmt.Errorf("синхронизация уже выполняется")
	}
	r.isSyncing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.isSyncing = false
		r.mu.Unlock()
	}()

	if !r.monitor.Online() {
		return nil, fmt.Errorf("сервер недоступен, синхронизация отложена")
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	r.cycleMu.Lock()
	r.cycleCancel = cancel
	r.cycleMu.Unlock()
	defer cancel()

	result := &SyncResult{StartTime: time.Now()}
	r.log.Info("Начало синхронизации", "start_time", result.StartTime)

	var (
		wg       gosync.WaitGroup
		resultMu gosync.Mutex
	)

	for _, collection := range r.registry.Collections() {
		collection := collection
		wg.Add(1)
		go func() {
			defer wg.Done()

			pulled, pushed, conflicts, errs := r.syncCollection(cycleCtx, collection, retryFailed)

			resultMu.Lock()
			result.Pulled += pulled
			result.Pushed += pushed
			result.Conflicts += conflicts
			result.Errors = append(result.Errors, errs...)
			resultMu.Unlock()
		}()
	}
	wg.Wait()

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Success = len(result.Errors) == 0
	result.Failed = len(result.Errors)

	r.updateStats(result)

	if result.Success {
		r.log.Info("Синхронизация успешно завершена",
			"duration", result.Duration,
			"pulled", result.Pulled,
			"pushed", result.Pushed,
			"conflicts", result.Conflicts,
		)
	} else {
		r.log.Warn("Синхронизация завершена с ошибками",
			"duration", result.Duration,
			"errors", len(result.Errors),
		)
	}

	if result.Pushed > 0 {
		r.notify.emit(Signal{Kind: SignalSynced, Count: result.Pushed})
	}

	return result, nil
}

// syncCollection — пулл, затем пуш одной коллекции. Мьютекс коллекции
// не позволяет пуллу параллельного цикла перезаписать документ,
// который прямо сейчас уходит в пуше.
func (r *Replicator) syncCollection(ctx context.Context, collection string, retryFailed bool) (pulled, pushed, conflicts int, errs []SyncError) {
	mu := r.collMu[collection]
	mu.Lock()
	defer mu.Unlock()

	r.setState(collection, StatePulling)
	pulled, pullConflicts, err := r.pull(ctx, collection)
	conflicts += pullConflicts
	if err != nil {
		errs = append(errs, SyncError{
			Collection: collection,
			Operation:  "pull",
			Error:      err.Error(),
			Transient:  isTransient(err),
			Timestamp:  time.Now(),
		})
		r.setState(collection, StateError)
		// Пуш не пропускаем: отложенные правки важнее свежих чужих данных.
	}

	r.setState(collection, StatePushing)
	pushed, pushConflicts, pushErrs := r.push(ctx, collection, retryFailed)
	conflicts += pushConflicts
	errs = append(errs, pushErrs...)

	if len(errs) > 0 {
		r.setState(collection, StateError)
	}
	r.setState(collection, StateIdle)
	return pulled, pushed, conflicts, errs
}

// pull забирает с сервера документы, измененные после контрольной точки,
// ограниченными партиями. Контрольная точка сдвигается на updatedAt и id
// последнего документа партии; идентификатор разрывает равные метки
// времени, чтобы партия, разрезанная по одинаковому updatedAt,
// не потеряла хвост. Пустая партия точку не трогает.
func (r *Replicator) pull(ctx context.Context, collection string) (int, int, error) {
	cp, err := r.checkpoints.Get(collection)
	if err != nil {
		return 0, 0, err
	}

	total, conflicts := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return total, conflicts, err
		}

		batch, err := r.api.List(ctx, collection, cp.Checkpoint, cp.LastID, r.cfg.BatchSize)
		if err != nil {
			return total, conflicts, err
		}
		if len(batch) == 0 {
			break
		}

		for _, remote := range batch {
			applied, wasConflict, err := r.applyRemote(ctx, collection, remote)
			if err != nil {
				return total, conflicts, err
			}
			if wasConflict {
				conflicts++
			}
			if applied {
				total++
			}
		}

		last := batch[len(batch)-1]
		cp.Checkpoint = last.UpdatedAt
		cp.LastID = last.ID
		cp.LastSync = time.Now().UTC()
		if err := r.checkpoints.Set(cp); err != nil {
			return total, conflicts, err
		}

		if len(batch) < r.cfg.BatchSize {
			break
		}
	}

	return total, conflicts, nil
}

// applyRemote записывает серверный документ в кэш, разрешая конфликт
// с еще не отправленной локальной правкой по правилу "новее — побеждает".
func (r *Replicator) applyRemote(ctx context.Context, collection string, remote *document.Document) (applied, wasConflict bool, err error) {
	local, err := r.store.FindByID(ctx, collection, remote.ID)
	if err != nil && !errors.Is(err, document.ErrNotFound) {
		return false, false, err
	}

	if local != nil && local.SyncStatus != document.StatusSynced {
		// Пулл наехал на отложенную правку: сводим версии резолвером.
		winner := document.Resolve(local, remote)
		if winner == local {
			// Локальная правка новее — остается pending и уйдет в пуше.
			return false, true, nil
		}
		wasConflict = true
		r.log.Info("Отложенная локальная правка отброшена в пользу серверной версии",
			"collection", collection,
			"id", remote.ID,
		)
	}

	syncedAt := time.Now().UTC()
	remote.SyncStatus = document.StatusSynced
	remote.Meta = document.Meta{CreatedAt: remote.CreatedAt, SyncedAt: &syncedAt}

	if err := r.store.Upsert(ctx, collection, remote); err != nil {
		return false, wasConflict, err
	}
	return true, wasConflict, nil
}

// push отправляет на сервер отложенные документы в порядке их updatedAt.
// Временный идентификатор означает create, серверный — update.
// Failed-документы включаются только при retryFailed.
func (r *Replicator) push(ctx context.Context, collection string, retryFailed bool) (int, int, []SyncError) {
	statuses := []document.SyncStatus{document.StatusPending}
	if retryFailed {
		statuses = append(statuses, document.StatusFailed)
	}
	docs, err := r.store.ListByStatus(ctx, collection, statuses...)
	if err != nil {
		return 0, 0, []SyncError{{
			Collection: collection,
			Operation:  "push",
			Error:      err.Error(),
			Timestamp:  time.Now(),
		}}
	}

	pushed, conflicts := 0, 0
	var errs []SyncError

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			// Цикл отменен (сеть пропала): документ останется pending
			// и уйдет в следующем цикле.
			errs = append(errs, SyncError{
				Collection: collection,
				ID:         doc.ID,
				Operation:  "push",
				Error:      err.Error(),
				Transient:  true,
				Timestamp:  time.Now(),
			})
			return pushed, conflicts, errs
		}

		var (
			wasConflict bool
			pushErr     error
		)
		if document.IsOfflineID(doc.ID) {
			pushErr = r.pushCreate(ctx, collection, doc)
		} else {
			wasConflict, pushErr = r.pushUpdate(ctx, collection, doc)
		}

		if wasConflict {
			conflicts++
			continue
		}
		if pushErr != nil {
			errs = append(errs, SyncError{
				Collection: collection,
				ID:         doc.ID,
				Operation:  "push",
				Error:      pushErr.Error(),
				Transient:  isTransient(pushErr),
				Timestamp:  time.Now(),
			})
			if isTransient(pushErr) {
				// Сбой сети: прерываем пуш коллекции, остальное — в следующий цикл.
				r.monitor.SetOnline(false)
				return pushed, conflicts, errs
			}
			continue
		}
		pushed++
	}

	return pushed, conflicts, errs
}

// pushCreate — офлайн-созданный документ: create на сервере, затем замена
// временного документа серверным. Временный документ не удаляется,
// пока сервер не подтвердил создание: данные не теряются.
func (r *Replicator) pushCreate(ctx context.Context, collection string, doc *document.Document) error {
	remote, err := r.api.Create(ctx, collection, doc.RemotePayload(), doc.ID)
	if err != nil {
		if !isTransient(err) {
			if markErr := r.tracker.MarkFailed(ctx, collection, doc.ID); markErr != nil {
				r.log.Error("Не удалось пометить документ как failed",
					"collection", collection,
					"id", doc.ID,
					"error", markErr,
				)
			}
		}
		return err
	}

	syncedAt := time.Now().UTC()
	remote.SyncStatus = document.StatusSynced
	remote.Meta = document.Meta{CreatedAt: remote.CreatedAt, SyncedAt: &syncedAt}

	// Пара атомарных локальных операций: удалить временный, вставить серверный.
	if err := r.store.Remove(ctx, collection, doc.ID); err != nil {
		return err
	}
	if err := r.store.Upsert(ctx, collection, remote); err != nil {
		return err
	}

	r.log.Info("Офлайн-создание подтверждено сервером",
		"collection", collection,
		"temp_id", doc.ID,
		"id", remote.ID,
	)
	return nil
}

// pushUpdate — правка существующего документа. Отказ из-за устаревания
// разрешается резолвером: побеждает более свежая версия, проигравшая
// локальная правка отбрасывается, а не повторяется бесконечно.
func (r *Replicator) pushUpdate(ctx context.Context, collection string, doc *document.Document) (bool, error) {
	remote, err := r.api.Update(ctx, collection, doc.ID, doc.RemotePayload())
	if err == nil {
		syncedAt := time.Now().UTC()
		remote.SyncStatus = document.StatusSynced
		remote.Meta = document.Meta{CreatedAt: remote.CreatedAt, SyncedAt: &syncedAt}
		return false, r.store.Upsert(ctx, collection, remote)
	}

	if errors.Is(err, document.ErrConflict) {
		server, getErr := r.api.Get(ctx, collection, doc.ID)
		if getErr != nil {
			return false, getErr
		}

		winner := document.Resolve(doc, server)
		if winner == doc {
			// Локальная версия свежее серверной — остается pending,
			// попробуем снова в следующем цикле.
			return false, nil
		}

		syncedAt := time.Now().UTC()
		server.SyncStatus = document.StatusSynced
		server.Meta = document.Meta{CreatedAt: server.CreatedAt, SyncedAt: &syncedAt}
		if upErr := r.store.Upsert(ctx, collection, server); upErr != nil {
			return false, upErr
		}

		r.log.Info("Конфликт при пуше разрешен в пользу сервера",
			"collection", collection,
			"id", doc.ID,
		)
		return true, nil
	}

	if !isTransient(err) {
		if markErr := r.tracker.MarkFailed(ctx, collection, doc.ID); markErr != nil {
			r.log.Error("Не удалось пометить документ как failed",
				"collection", collection,
				"id", doc.ID,
				"error", markErr,
			)
		}
	}
	return false, err
}

func (r *Replicator) setState(collection string, state ReplState) {
	r.mu.Lock()
	r.states[collection] = state
	r.mu.Unlock()
}

// States возвращает снимок состояний коллекций.
func (r *Replicator) States() map[string]ReplState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ReplState, len(r.states))
	for k, v := range r.states {
		out[k] = v
	}
	return out
}

// Stats возвращает снимок накопленной статистики.
func (r *Replicator) Stats() SyncStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Replicator) updateStats(result *SyncResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalSyncs++
	r.stats.TotalPulled += result.Pulled
	r.stats.TotalPushed += result.Pushed
	r.stats.TotalConflicts += result.Conflicts
	if result.Success {
		r.stats.LastSuccessful = result.EndTime
	} else {
		r.stats.LastFailed = result.EndTime
		r.stats.TotalErrors += len(result.Errors)
	}

	n := float64(r.stats.TotalSyncs)
	r.stats.AvgSyncDuration = (r.stats.AvgSyncDuration*(n-1) + result.Duration.Seconds()) / n
}
