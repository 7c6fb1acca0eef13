package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mickaelli/reelforge/internal/config"
	"github.com/mickaelli/reelforge/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the retention reaper and abandoned-job detector on a cron schedule",
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

		s := a.newScheduler()
		if err := s.Start(cfg.Retention.SweepInterval); err != nil {
			return err
		}
		log.Info("scheduler started", zap.Duration("sweep_interval", cfg.Retention.SweepInterval))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutdown signal received")
		s.Stop()
		return nil
	},
}
