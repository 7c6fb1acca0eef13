package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mickaelli/reelforge/internal/config"
	"github.com/mickaelli/reelforge/internal/httpapi"
	"github.com/mickaelli/reelforge/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP surface (Create/Get/Cancel + progress websocket)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log := logging.New(cfg.Log)
		defer log.Sync()

		a, err := buildApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.close()

		router := httpapi.NewRouter(a.newJobService())
		srv := &http.Server{Addr: cfg.Server.Port, Handler: router}

		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("http server failed", zap.Error(err))
			}
		}()
		log.Info("http surface listening", zap.String("addr", cfg.Server.Port))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}
