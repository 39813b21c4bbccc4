package client

import (
	"context"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"
)

// ProbeFunc проверяет доступность сервера. Ошибка означает "офлайн".
type ProbeFunc func(ctx context.Context) error

// NetworkMonitor — единственный источник истины о состоянии сети.
// Периодически опрашивает сервер и рассылает подписчикам переходы
// online/offline. Никаких эвристик сверх результата пробы: ложные
// срабатывания — принятое ограничение.
type NetworkMonitor struct {
	probe    ProbeFunc
	interval time.Duration
	log      *slog.Logger

	mu     gosync.RWMutex
	online bool
	subs   []chan bool

	stop     chan struct{}
	stopOnce gosync.Once
	wg       gosync.WaitGroup
}

func NewNetworkMonitor(probe ProbeFunc, interval time.Duration, log *slog.Logger) *NetworkMonitor {
	return &NetworkMonitor{
		probe:    probe,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start выполняет первую пробу синхронно (начальное состояние берется из нее)
// и запускает фоновый цикл опроса.
func (m *NetworkMonitor) Start(ctx context.Context) {
	m.SetOnline(m.probe(ctx) == nil)

	m.wg.Add(1)
	go m.run(ctx)
}

func (m *NetworkMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.SetOnline(m.probe(ctx) == nil)
		}
	}
}

func (m *NetworkMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Online возвращает текущее состояние сети.
func (m *NetworkMonitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe возвращает канал, в который приходит новое состояние
// при каждом переходе online/offline. Канал буферизован; если подписчик
// не успевает читать, устаревшее событие вытесняется свежим.
func (m *NetworkMonitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// SetOnline фиксирует состояние сети и при переходе уведомляет подписчиков.
// Вызывается циклом опроса; доступен и напрямую — например, когда запрос
// шлюза записи обнаружил обрыв раньше очередной пробы.
func (m *NetworkMonitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := make([]chan bool, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.log.Info("Соединение с сервером восстановлено")
	} else {
		m.log.Warn("Соединение с сервером потеряно, переходим в офлайн-режим")
	}

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
			// Вытесняем непрочитанное событие, чтобы подписчик увидел актуальное.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}
