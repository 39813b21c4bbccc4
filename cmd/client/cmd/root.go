// cmd/client/cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/exp/slog"

	"medsync/internal/app/client"
	"medsync/internal/app/client/config"
	"medsync/internal/utils/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	cfg        *config.Config
	log        *slog.Logger
	app        *client.App
	debug      bool
	jsonOutput bool
	serverURL  string
)

var rootCmd = &cobra.Command{
	Use:   "medsync",
	Short: "MedSync - офлайн-клиент госпитального дашборда",
	Long: `MedSync — клиентское приложение госпитального дашборда,
рассчитанное на работу при нестабильной сети.

Все данные кэшируются локально: чтение всегда отвечает из кэша,
записи при обрыве связи откладываются и автоматически отправляются
на сервер после восстановления соединения.`,
	PersistentPreRunE: setupApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	defer func() {
		if app != nil {
			app.Close()
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	// Загружаем конфигурацию
	var err error
	cfg, err = loadConfig()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Переопределяем настройки из флагов командной строки
	if serverURL != "" {
		cfg.ServerAddress = serverURL
	}
	if debug {
		cfg.Env = "local"
	}

	// Настраиваем логгер
	log = logger.New(cfg.Env)

	// Создаем приложение
	app, err = client.New(cfg, log, printSignal)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	app.Start(cmd.Context())
	cmd.SetContext(context.WithValue(cmd.Context(), "app", app))

	return nil
}

// printSignal выводит сигналы ядра пользователю. Не на пути логики:
// ядро сообщает, что случилось, CLI решает, как это показать.
func printSignal(s client.Signal) {
	if jsonOutput {
		return
	}

	switch s.Kind {
	case client.SignalSaved:
		color.Green("✓ Сохранено: %s/%s", s.Collection, s.ID)
	case client.SignalSavedOffline:
		color.Yellow("⚠ Нет связи с сервером. Сохранено локально: %s/%s — изменение уйдет при восстановлении связи", s.Collection, s.ID)
	case client.SignalSynced:
		color.Green("✓ Синхронизировано изменений: %d", s.Count)
	case client.SignalOfflineMode:
		color.Yellow("⚠ Офлайн-режим: данные показаны из локального кэша")
	}
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Ищем конфиг в стандартных местах
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		configDir := filepath.Join(home, ".medsync")
		viper.AddConfigPath(configDir)
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Конфиг не найден, используем значения по умолчанию
	}

	// Загружаем конфигурацию через стандартный метод
	return config.MustLoad(), nil
}

func init() {
	cobra.OnInitialize()

	// Глобальные флаги
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "включить отладочный режим")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "адрес сервера дашборда")

	// Команды будут добавлены в init() соответствующих файлов
}
