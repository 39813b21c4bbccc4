// cmd/client/cmd/cache/warm.go
package cache

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"medsync/internal/app/client"
)

var (
	warmRole     string
	warmHospital string
	warmDoctor   string
	warmPatient  string
)

var WarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Прогреть кэш для роли",
	Long: `Загрузка в кэш данных, которые понадобятся роли офлайн.

Скоуп зависит от роли:
- admin   - все данные госпиталя (--hospital)
- doctor  - свои приемы, пациенты и медкарты (--doctor)
- patient - свои приемы, счета и медкарты (--patient)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFromContext(cmd)
		if err != nil {
			return err
		}

		fmt.Printf("Прогрев кэша для роли %s...\n", warmRole)

		result, err := app.Warmer().Warm(cmd.Context(), client.WarmScope{
			Role:       warmRole,
			HospitalID: warmHospital,
			DoctorID:   warmDoctor,
			PatientID:  warmPatient,
		})
		if err != nil {
			return fmt.Errorf("ошибка прогрева кэша: %w", err)
		}

		fmt.Println()
		fmt.Println("✅ Прогрев завершен!")
		fmt.Printf("Время выполнения: %v\n", result.Duration.Round(time.Millisecond))
		for collection, n := range result.Loaded {
			fmt.Printf("  %-16s %d\n", collection, n)
		}
		fmt.Printf("Всего загружено: %d документов\n", result.Total)

		return nil
	},
}

func init() {
	WarmCmd.Flags().StringVarP(&warmRole, "role", "r", "", "роль пользователя (admin, doctor, patient)")
	WarmCmd.Flags().StringVar(&warmHospital, "hospital", "", "идентификатор госпиталя")
	WarmCmd.Flags().StringVar(&warmDoctor, "doctor", "", "идентификатор врача")
	WarmCmd.Flags().StringVar(&warmPatient, "patient", "", "идентификатор пациента")
	WarmCmd.MarkFlagRequired("role")
}
