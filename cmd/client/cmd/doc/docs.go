package doc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"medsync/internal/app/client"
)

// DocCmd - родительская команда для всех операций с документами
var DocCmd = &cobra.Command{
	Use:   "doc",
	Short: "Управление документами",
	Long: `Создание, просмотр, изменение и удаление документов дашборда:
пациенты, врачи, приемы, госпитали, счета, медицинские карты.

Чтение всегда отвечает из локального кэша. Запись уходит на сервер,
а при обрыве связи откладывается и синхронизируется позже.`,
}

func appFromContext(cmd *cobra.Command) (*client.App, error) {
	app, ok := cmd.Context().Value("app").(*client.App)
	if !ok || app == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return app, nil
}

// parseFields разбирает флаги вида key=value в payload документа.
// Значение сначала пробуем как JSON-литерал (число, bool), иначе строка.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("неверный формат поля %q, ожидается key=value", arg)
		}

		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			switch parsed.(type) {
			case float64, bool:
				fields[key] = parsed
				continue
			}
		}
		fields[key] = value
	}
	return fields, nil
}
