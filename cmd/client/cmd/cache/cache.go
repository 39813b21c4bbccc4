package cache

import (
	"fmt"

	"github.com/spf13/cobra"

	"medsync/internal/app/client"
)

// CacheCmd - родительская команда управления локальным кэшем
var CacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Управление локальным кэшем",
	Long: `Прогрев и очистка локального кэша документов.

Прогрев заранее загружает данные, которые понадобятся роли офлайн,
не дожидаясь, пока пользователь их откроет.`,
}

func appFromContext(cmd *cobra.Command) (*client.App, error) {
	app, ok := cmd.Context().Value("app").(*client.App)
	if !ok || app == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return app, nil
}
