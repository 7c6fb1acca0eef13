package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/mickaelli/reelforge/internal/beat"
	"github.com/mickaelli/reelforge/internal/config"
	"github.com/mickaelli/reelforge/internal/jobservice"
	"github.com/mickaelli/reelforge/internal/model"
	"github.com/mickaelli/reelforge/internal/pipeline"
	"github.com/mickaelli/reelforge/internal/progress"
	"github.com/mickaelli/reelforge/internal/queue"
	"github.com/mickaelli/reelforge/internal/retention"
	"github.com/mickaelli/reelforge/internal/scheduler"
	"github.com/mickaelli/reelforge/internal/statemachine"
	"github.com/mickaelli/reelforge/internal/store"
	"github.com/mickaelli/reelforge/internal/toolinvoker"
	"github.com/mickaelli/reelforge/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app bundles every collaborator built from one Config, so each cobra
// subcommand wires only the subset it needs and shuts the rest down
// cleanly on exit.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	metadata  *store.MetadataStore
	blobs     *store.BlobStore
	artifacts *store.ArtifactStore
	sm        *statemachine.Table
	redisOpt  asynq.RedisConnOpt
	broker    *queue.Broker
}

func buildApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	metadata, err := store.Open(cfg.MySQL.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	blobs, err := store.NewBlobStore(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL, log)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	artifacts := store.NewArtifactStore(blobs, metadata, log)
	sm := statemachine.New(metadata)
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password}
	broker := queue.New(redisOpt)

	return &app{
		cfg:       cfg,
		log:       log,
		metadata:  metadata,
		blobs:     blobs,
		artifacts: artifacts,
		sm:        sm,
		redisOpt:  redisOpt,
		broker:    broker,
	}, nil
}

func (a *app) close() {
	if err := a.broker.Close(); err != nil {
		a.log.Warn("broker close failed", zap.Error(err))
	}
}

func (a *app) newJobService() *jobservice.Service {
	const outputURLExpiry = 15 * time.Minute
	probe := toolinvoker.New(a.cfg.Tool.ProbeBinary, a.cfg.Tool.StderrCap, a.log)
	return jobservice.New(a.artifacts, a.sm, a.broker, probe, a.cfg.Validation, a.cfg.Retention.AbandonedNonTerminal, outputURLExpiry, a.log)
}

func (a *app) stageTimeouts() pipeline.StageTimeouts {
	p := a.cfg.Pipeline
	return pipeline.StageTimeouts{
		AudioSlice:   p.AudioSliceTimeout,
		Beats:        p.BeatsTimeout,
		Plan:         p.PlanTimeout,
		Normalize:    p.NormalizeTimeout,
		CutAndConcat: p.CutConcatTimeout,
		StyleGrade:   p.StyleGradeTimeout,
		Mux:          p.MuxTimeout,
		QualityGate:  p.QualityGateTimeout,
	}
}

func (a *app) newExecutor(scratchRoot string) *pipeline.Executor {
	tool := toolinvoker.New(a.cfg.Tool.Binary, a.cfg.Tool.StderrCap, a.log)
	probe := toolinvoker.New(a.cfg.Tool.ProbeBinary, a.cfg.Tool.StderrCap, a.log)
	analyzer := beat.New(a.cfg.Pipeline.MinSpacingSec, a.log)
	out := pipeline.OutputSpec{
		Width:       a.cfg.Pipeline.OutputWidth,
		Height:      a.cfg.Pipeline.OutputHeight,
		FPS:         a.cfg.Pipeline.OutputFPS,
		DurationSec: a.cfg.Pipeline.OutputDurationSec,
	}
	runner := pipeline.NewRunner(a.artifacts, tool, probe, analyzer, out, scratchRoot, a.log)

	redisClient := redis.NewClient(&redis.Options{Addr: a.cfg.Redis.Addr, Password: a.cfg.Redis.Password})
	publisher := progress.New(a.metadata, redisClient, 2*time.Second, a.log)

	checker := pipeline.CancelChecker(func(ctx context.Context, jobID string) (bool, error) {
		job, err := a.metadata.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		return job.Status == model.JobCancelled, nil
	})

	return pipeline.NewExecutor(runner, a.cfg.Pipeline.NClip, checker, publisher, a.log)
}

func (a *app) newWorker(executor *pipeline.Executor) *worker.Worker {
	cfg := worker.Config{
		Concurrency:       a.cfg.Worker.Concurrency,
		MaxAttempts:       a.cfg.Pipeline.MaxAttempts,
		BackoffBase:       a.cfg.Worker.BackoffBase,
		BackoffCap:        a.cfg.Worker.BackoffCap,
		TerminalRetention: a.cfg.Retention.TerminalHorizon,
	}
	return worker.New(a.redisOpt, cfg, a.artifacts, a.sm, executor, a.stageTimeouts(), a.cfg.Tool.GraceDelay, a.log)
}

func (a *app) newScheduler() *scheduler.Scheduler {
	reaper := retention.New(a.artifacts, a.log)
	return scheduler.New(reaper, a.metadata, a.broker, a.cfg.Worker.VisibilityTTL, a.cfg.Scheduler.VisibilitySlack, a.log)
}
