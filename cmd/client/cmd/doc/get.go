// cmd/client/cmd/doc/get.go
package doc

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"medsync/internal/domain/document"
)

var getCollection string

var GetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Просмотреть документ",
	Long:  `Просмотр документа по идентификатору из локального кэша.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFromContext(cmd)
		if err != nil {
			return err
		}

		doc, err := app.Store().FindByID(cmd.Context(), getCollection, args[0])
		if err != nil {
			return fmt.Errorf("ошибка получения документа: %w", err)
		}

		if jsonFlag, _ := cmd.Root().PersistentFlags().GetBool("json"); jsonFlag {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(doc)
		}

		return printDocHuman(doc)
	},
}

func printDocHuman(doc *document.Document) error {
	fmt.Printf("ID:          %s\n", doc.ID)
	fmt.Printf("Статус:      %s\n", doc.SyncStatus)
	fmt.Printf("Создано:     %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Обновлено:   %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))
	if doc.Meta.SyncedAt != nil {
		fmt.Printf("Синхронизировано: %s\n", doc.Meta.SyncedAt.Format("2006-01-02 15:04:05"))
	}
	if doc.Meta.Offline {
		fmt.Println("Создано офлайн, ожидает отправки на сервер")
	}
	fmt.Println()

	names := make([]string, 0, len(doc.Fields))
	for name := range doc.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf("%-16s %v\n", name+":", doc.Fields[name])
	}

	return nil
}

func init() {
	GetCmd.Flags().StringVarP(&getCollection, "collection", "c", "", "коллекция документа")
	GetCmd.MarkFlagRequired("collection")
}
