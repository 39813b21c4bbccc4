// cmd/client/cmd/init.go
package cmd

import (
	"medsync/cmd/client/cmd/cache"
	"medsync/cmd/client/cmd/doc"
	"medsync/cmd/client/cmd/sync"
)

func init() {
	// Добавляем команды работы с документами
	rootCmd.AddCommand(doc.DocCmd)
	doc.DocCmd.AddCommand(doc.SubmitCmd)
	doc.DocCmd.AddCommand(doc.GetCmd)
	doc.DocCmd.AddCommand(doc.ListCmd)
	doc.DocCmd.AddCommand(doc.DeleteCmd)

	// Команды синхронизации и кэша
	rootCmd.AddCommand(sync.SyncCmd)

	rootCmd.AddCommand(cache.CacheCmd)
	cache.CacheCmd.AddCommand(cache.WarmCmd)
	cache.CacheCmd.AddCommand(cache.ClearCmd)

	rootCmd.AddCommand(statusCmd)
}
