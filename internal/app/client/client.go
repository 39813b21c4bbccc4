package client

import (
	"context"
	"fmt"

	"golang.org/x/exp/slog"

	"medsync/internal/app/client/config"
	"medsync/internal/domain/document"
)

// App собирает ядро офлайн-синхронизации: хранилище, монитор сети, шлюз
// записи, трекер отложенных правок, движок репликации и прогрев кэша.
// Хранилище создается явно и передается компонентам — никакого глобального
// состояния; жизненный цикл: New, Start, Close.
type App struct {
	config      *config.Config
	log         *slog.Logger
	registry    *document.Registry
	store       *Store
	checkpoints *CheckpointStore
	api         *apiClient
	monitor     *NetworkMonitor
	gateway     *WriteGateway
	tracker     *PendingTracker
	replicator  *Replicator
	warmer      *CacheWarmer
}

func New(cfg *config.Config, log *slog.Logger, notify SignalFunc) (*App, error) {
	registry := document.DefaultRegistry()

	store, err := OpenStore(cfg.DataPath, registry, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации локального хранилища: %w", err)
	}

	checkpoints := NewCheckpointStore(cfg.CheckpointPath)
	api := newAPIClient(cfg.BaseURL(), cfg.RequestTimeout(), log)
	monitor := NewNetworkMonitor(api.Health, cfg.ProbeInterval(), log)
	gateway := NewWriteGateway(store, api, monitor, registry, log, notify)
	tracker := NewPendingTracker(store, registry)
	replicator := NewReplicator(store, api, tracker, checkpoints, monitor, registry, ReplicatorConfig{
		BatchSize:   cfg.SyncBatchSize,
		SettleDelay: cfg.SettleDelay(),
		Interval:    cfg.SyncInterval(),
		RetryBase:   cfg.RetryBase(),
		RetryMax:    cfg.RetryMax(),
	}, log, notify)
	warmer := NewCacheWarmer(store, api, log)

	return &App{
		config:      cfg,
		log:         log,
		registry:    registry,
		store:       store,
		checkpoints: checkpoints,
		api:         api,
		monitor:     monitor,
		gateway:     gateway,
		tracker:     tracker,
		replicator:  replicator,
		warmer:      warmer,
	}, nil
}

// Start запускает монитор сети и фоновые триггеры репликации.
func (a *App) Start(ctx context.Context) {
	a.monitor.Start(ctx)
	a.replicator.Start(ctx)
}

// Close останавливает фоновую работу и закрывает хранилище.
func (a *App) Close() error {
	a.replicator.Stop()
	a.monitor.Stop()
	return a.store.Close()
}

// CheckConnection проверяет доступность сервера.
func (a *App) CheckConnection(ctx context.Context) error {
	return a.api.Health(ctx)
}

func (a *App) Config() *config.Config        { return a.config }
func (a *App) Registry() *document.Registry  { return a.registry }
func (a *App) Store() *Store                 { return a.store }
func (a *App) Checkpoints() *CheckpointStore { return a.checkpoints }
func (a *App) Monitor() *NetworkMonitor      { return a.monitor }
func (a *App) Gateway() *WriteGateway        { return a.gateway }
func (a *App) Tracker() *PendingTracker      { return a.tracker }
func (a *App) Replicator() *Replicator       { return a.replicator }
func (a *App) Warmer() *CacheWarmer          { return a.warmer }
