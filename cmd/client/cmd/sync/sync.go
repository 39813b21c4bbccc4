package sync

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"medsync/internal/app/client"
)

var (
	syncStatus bool
	watchMode  bool
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Управление синхронизацией",
	Long: `Синхронизация локального кэша с сервером: сначала забираются
серверные изменения с контрольной точки, затем отправляются отложенные
локальные правки. Конфликты разрешаются по принципу "новее — побеждает".

С флагом --watch команда не завершается: синхронизация выполняется
периодически и при каждом восстановлении соединения.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := cmd.Context().Value("app").(*client.App)
		if !ok || app == nil {
			return fmt.Errorf("приложение не инициализировано")
		}

		if syncStatus {
			return showSyncStatus(cmd.Context(), app)
		}

		if watchMode {
			return runWatch(cmd.Context(), app)
		}

		return runSync(cmd.Context(), app)
	},
}

func runSync(ctx context.Context, app *client.App) error {
	fmt.Println("=== Синхронизация данных ===")

	fmt.Println("Проверка соединения с сервером...")
	if err := app.CheckConnection(ctx); err != nil {
		return fmt.Errorf("сервер недоступен: %v", err)
	}

	fmt.Println("Начало синхронизации...")

	result, err := app.Replicator().SyncAll(ctx)
	if err != nil {
		return fmt.Errorf("ошибка синхронизации: %w", err)
	}

	fmt.Println()
	if result.Success {
		fmt.Println("✅ Синхронизация завершена!")
	} else {
		fmt.Println("⚠️  Синхронизация завершена с ошибками")
	}
	fmt.Printf("Время выполнения: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("Получено с сервера: %d документов\n", result.Pulled)
	fmt.Printf("Отправлено на сервер: %d документов\n", result.Pushed)

	if result.Conflicts > 0 {
		fmt.Printf("Разрешено конфликтов: %d\n", result.Conflicts)
	}

	if len(result.Errors) > 0 {
		fmt.Printf("Ошибок при синхронизации: %d\n", len(result.Errors))
		for i, err := range result.Errors {
			if i < 3 { // Показываем только первые 3 ошибки
				fmt.Printf("  • %s %s: %s\n", err.Collection, err.Operation, err.Error)
			}
		}
		if len(result.Errors) > 3 {
			fmt.Printf("  ... и еще %d ошибок\n", len(result.Errors)-3)
		}
	}

	pending, err := app.Tracker().CountAllPending(ctx)
	if err == nil && pending > 0 {
		fmt.Printf("Ожидают отправки: %d документов\n", pending)
	}

	return nil
}

func runWatch(ctx context.Context, app *client.App) error {
	fmt.Println("Фоновая синхронизация запущена, Ctrl+C для выхода")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Фоновые триггеры уже запущены в setupApp; здесь просто ждем.
	<-ctx.Done()

	fmt.Println()
	fmt.Println("Остановка фоновой синхронизации")
	return nil
}

func showSyncStatus(ctx context.Context, app *client.App) error {
	fmt.Println("=== Статус синхронизации ===")

	stats := app.Replicator().Stats()

	fmt.Println("📊 Статистика:")
	fmt.Printf("  Всего синхронизаций: %d\n", stats.TotalSyncs)
	fmt.Printf("  Получено с сервера: %d документов\n", stats.TotalPulled)
	fmt.Printf("  Отправлено на сервер: %d документов\n", stats.TotalPushed)
	fmt.Printf("  Разрешено конфликтов: %d\n", stats.TotalConflicts)
	fmt.Printf("  Ошибок: %d\n", stats.TotalErrors)
	fmt.Printf("  Среднее время: %.2f сек\n", stats.AvgSyncDuration)

	if !stats.LastSuccessful.IsZero() {
		fmt.Printf("\n⏰ Временные метки:\n")
		fmt.Printf("  Последняя успешная: %s\n",
			stats.LastSuccessful.Format("2006-01-02 15:04:05"))
		if !stats.LastFailed.IsZero() {
			fmt.Printf("  Последняя неудачная: %s\n",
				stats.LastFailed.Format("2006-01-02 15:04:05"))
		}
	}

	fmt.Printf("\n⚙️  Состояние коллекций:\n")
	for collection, state := range app.Replicator().States() {
		fmt.Printf("  %-16s %s\n", collection, state)
	}

	counts, err := app.Tracker().CountByCollection(ctx)
	if err == nil && len(counts) > 0 {
		fmt.Printf("\n📥 Ожидают отправки:\n")
		for collection, n := range counts {
			fmt.Printf("  %-16s %d\n", collection, n)
		}
	}

	// Проверяем соединение с сервером
	fmt.Printf("\n🌐 Соединение с сервером: ")
	if err := app.CheckConnection(ctx); err != nil {
		fmt.Printf("❌ Ошибка: %v\n", err)
	} else {
		fmt.Printf("✅ OK\n")
	}

	return nil
}

func init() {
	SyncCmd.Flags().BoolVar(&syncStatus, "status", false, "показать статус синхронизации")
	SyncCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "фоновая синхронизация до прерывания")
}
