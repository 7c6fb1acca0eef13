package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mickaelli/reelforge/internal/config"
	"github.com/mickaelli/reelforge/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline consumer (asynq worker over reel:process)",
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

		scratchRoot := filepath.Join(os.TempDir(), "reelforge-scratch")
		executor := a.newExecutor(scratchRoot)
		w := a.newWorker(executor)

		ctx, cancel := context.WithCancel(context.Background())
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-quit
			log.Info("shutdown signal received, draining in-flight jobs")
			cancel()
		}()

		log.Info("worker starting", zap.Int("concurrency", cfg.Worker.Concurrency))
		return w.Run(ctx)
	},
}
