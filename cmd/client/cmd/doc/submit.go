// cmd/client/cmd/doc/submit.go
package doc

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"medsync/internal/app/client"
)

var (
	submitCollection string
	submitID         string
	submitData       string
	submitFields     []string
)

var SubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Создать или изменить документ",
	Long: `Создание нового документа или правка существующего (--id).

Поля передаются флагами --field key=value или одним JSON-объектом
через --data. Payload проверяется по схеме коллекции до отправки.

Если сервер недоступен, документ сохраняется локально с временным
идентификатором и автоматически отправляется после восстановления связи.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFromContext(cmd)
		if err != nil {
			return err
		}

		payload := make(map[string]any)
		if submitData != "" {
			if err := json.Unmarshal([]byte(submitData), &payload); err != nil {
				return fmt.Errorf("неверный JSON в --data: %w", err)
			}
		}
		if len(submitFields) > 0 {
			extra, err := parseFields(submitFields)
			if err != nil {
				return err
			}
			for k, v := range extra {
				payload[k] = v
			}
		}
		if len(payload) == 0 {
			return fmt.Errorf("не заданы поля документа, используйте --field или --data")
		}

		doc, err := app.Gateway().Submit(cmd.Context(), submitCollection, payload, client.SubmitOptions{
			ExistingID: submitID,
		})
		if err != nil {
			return fmt.Errorf("ошибка записи документа: %w", err)
		}

		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	SubmitCmd.Flags().StringVarP(&submitCollection, "collection", "c", "", "коллекция документа")
	SubmitCmd.Flags().StringVar(&submitID, "id", "", "идентификатор существующего документа")
	SubmitCmd.Flags().StringVarP(&submitData, "data", "d", "", "поля документа одним JSON-объектом")
	SubmitCmd.Flags().StringArrayVarP(&submitFields, "field", "f", nil, "поле документа в формате key=value")
	SubmitCmd.MarkFlagRequired("collection")
}
