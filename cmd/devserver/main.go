package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"medsync/internal/app/devserver"
	"medsync/internal/domain/document"
	"medsync/internal/utils/logger"
)

func main() {
	viper.AutomaticEnv()
	viper.SetDefault("APP_ENV", "local")
	viper.SetDefault("DEVSERVER_ADDRESS", ":8080")

	log := logger.New(viper.GetString("APP_ENV"))

	srv := devserver.New(document.DefaultRegistry(), log)
	httpSrv := &http.Server{
		Addr:    viper.GetString("DEVSERVER_ADDRESS"),
		Handler: srv.Router(),
	}

	go func() {
		log.Info("Dev-сервер запущен", "address", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Ошибка HTTP-сервера", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("Ошибка остановки сервера", "error", err)
	}
	log.Info("Dev-сервер остановлен")
}
