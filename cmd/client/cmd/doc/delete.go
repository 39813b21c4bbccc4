// cmd/client/cmd/doc/delete.go
package doc

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"medsync/internal/domain/document"
)

var deleteCollection string

var DeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Удалить документ",
	Long: `Удаление документа на сервере и в локальном кэше.

Удаление требует соединения с сервером: отложенных удалений нет.
Документ, созданный офлайн и еще не отправленный, удаляется локально.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFromContext(cmd)
		if err != nil {
			return err
		}

		err = app.Gateway().Delete(cmd.Context(), deleteCollection, args[0])
		if errors.Is(err, document.ErrOfflineDelete) {
			return fmt.Errorf("удаление недоступно офлайн, повторите при восстановлении связи")
		}
		if err != nil {
			return fmt.Errorf("ошибка удаления документа: %w", err)
		}

		fmt.Printf("✓ Документ %s/%s удален\n", deleteCollection, args[0])
		return nil
	},
}

func init() {
	DeleteCmd.Flags().StringVarP(&deleteCollection, "collection", "c", "", "коллекция документа")
	DeleteCmd.MarkFlagRequired("collection")
}
