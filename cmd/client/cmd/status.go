// cmd/client/cmd/status.go
package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние клиента",
	Long: `Сводка состояния клиента: соединение с сервером, число
несинхронизированных правок и контрольные точки коллекций.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("=== Состояние MedSync ===")
		fmt.Println()

		fmt.Print("Соединение с сервером: ")
		if app.Monitor().Online() {
			color.Green("онлайн")
		} else {
			color.Yellow("офлайн")
		}

		pending, err := app.Tracker().CountByCollection(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка подсчета несинхронизированных правок: %w", err)
		}

		total := 0
		for _, n := range pending {
			total += n
		}
		fmt.Printf("Ожидают отправки: %d\n", total)
		for collection, n := range pending {
			fmt.Printf("  %-16s %d\n", collection, n)
		}

		checkpoints, err := app.Checkpoints().All()
		if err != nil {
			return fmt.Errorf("ошибка чтения контрольных точек: %w", err)
		}
		if len(checkpoints) > 0 {
			fmt.Println("\nКонтрольные точки:")
			for _, collection := range app.Registry().Collections() {
				cp, ok := checkpoints[collection]
				if !ok {
					continue
				}
				fmt.Printf("  %-16s %s\n", collection, cp.Checkpoint.Format("2006-01-02 15:04:05"))
			}
		}

		return nil
	},
}
