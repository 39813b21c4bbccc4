// cmd/client/cmd/doc/list.go
package doc

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"medsync/internal/app/client"
	"medsync/internal/domain/document"
)

var (
	listCollection string
	listFilters    []string
	listFormat     string
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список документов коллекции",
	Long: `Просмотр документов коллекции из локального кэша.

Фильтры задаются флагами --filter key=value и применяются к доменным
полям документа; syncStatus фильтруется так же. Команда работает
и без сети: показывается то, что есть в кэше.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFromContext(cmd)
		if err != nil {
			return err
		}

		selector := client.Selector{}
		if len(listFilters) > 0 {
			parsed, err := parseFields(listFilters)
			if err != nil {
				return err
			}
			for k, v := range parsed {
				selector[k] = v
			}
		}

		docs, err := app.Store().Find(cmd.Context(), listCollection, selector)
		if err != nil {
			return fmt.Errorf("ошибка чтения кэша: %w", err)
		}

		if !app.Monitor().Online() {
			printSignalOffline()
		}

		switch listFormat {
		case "json":
			return printDocsJSON(docs)
		case "table":
			return printDocsTable(docs)
		default:
			return printDocsSimple(docs)
		}
	},
}

func printSignalOffline() {
	fmt.Fprintln(os.Stderr, "⚠ Офлайн-режим: данные показаны из локального кэша")
}

func printDocsSimple(docs []*document.Document) error {
	if len(docs) == 0 {
		fmt.Println("Документы не найдены")
		return nil
	}

	fmt.Printf("Найдено документов: %d\n\n", len(docs))

	for i, doc := range docs {
		marker := "✓"
		if doc.SyncStatus != document.StatusSynced {
			marker = "…"
		}

		fmt.Printf("%d. [%s] %s\n", i+1, marker, doc.ID)
		fmt.Printf("   Статус: %s | Обновлено: %s\n",
			doc.SyncStatus,
			doc.UpdatedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}

	return nil
}

func printDocsTable(docs []*document.Document) error {
	if len(docs) == 0 {
		fmt.Println("Документы не найдены")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tСтатус\tСоздано\tОбновлено\t\n")
	fmt.Fprintf(w, "---\t---\t---\t---\t\n")

	for _, doc := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
			doc.ID,
			doc.SyncStatus,
			doc.CreatedAt.Format("2006-01-02"),
			doc.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}

	w.Flush()
	fmt.Printf("\nВсего документов: %d\n", len(docs))
	return nil
}

func printDocsJSON(docs []*document.Document) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(docs)
}

func init() {
	ListCmd.Flags().StringVarP(&listCollection, "collection", "c", "", "коллекция документов")
	ListCmd.Flags().StringArrayVar(&listFilters, "filter", nil, "фильтр по полю в формате key=value")
	ListCmd.Flags().StringVarP(&listFormat, "format", "f", "simple", "формат вывода (simple, table, json)")
	ListCmd.MarkFlagRequired("collection")
}
