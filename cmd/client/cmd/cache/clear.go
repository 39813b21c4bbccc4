// cmd/client/cmd/cache/clear.go
package cache

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	clearCheckpoints bool
	clearForce       bool
)

var ClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Очистить локальный кэш",
	Long: `Удаление всех документов из локального кэша.

Несинхронизированные правки будут потеряны, поэтому команда
запрашивает подтверждение. Контрольные точки синхронизации
сохраняются, если не указан флаг --checkpoints: после очистки
кэш наполнится заново только свежими изменениями.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFromContext(cmd)
		if err != nil {
			return err
		}

		pending, err := app.Tracker().CountAllPending(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка подсчета несинхронизированных правок: %w", err)
		}

		if !clearForce {
			if pending > 0 {
				fmt.Printf("⚠️  В кэше %d несинхронизированных правок, они будут потеряны.\n", pending)
			}
			fmt.Print("Очистить кэш? [y/N]: ")

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Scan()
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			if answer != "y" && answer != "yes" {
				fmt.Println("Отменено")
				return nil
			}
		}

		if err := app.Store().ClearAll(cmd.Context()); err != nil {
			return fmt.Errorf("ошибка очистки кэша: %w", err)
		}

		if clearCheckpoints {
			if err := app.Checkpoints().Reset(); err != nil {
				return fmt.Errorf("ошибка сброса контрольных точек: %w", err)
			}
		}

		fmt.Println("✅ Кэш очищен")
		return nil
	},
}

func init() {
	ClearCmd.Flags().BoolVar(&clearCheckpoints, "checkpoints", false, "сбросить и контрольные точки синхронизации")
	ClearCmd.Flags().BoolVarP(&clearForce, "force", "f", false, "не запрашивать подтверждение")
}
