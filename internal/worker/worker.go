// Package worker is the asynq consumer side of the Queue/Broker
// collaborator (spec.md §4.2/§4.9): it picks up the {job_id} start
// message, guards the PENDING|PROCESSING -> PROCESSING CAS, runs the
// Pipeline Executor, and writes the terminal transition. Structured the
// way the teacher's service.Processor wraps an asynq.Server around one
// ServeMux handler, generalized from its single generate-task type to
// reelforge's single reel:process type.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/mickaelli/reelforge/internal/model"
	"github.com/mickaelli/reelforge/internal/pipeline"
	"github.com/mickaelli/reelforge/internal/queue"
	"github.com/mickaelli/reelforge/internal/statemachine"
	"github.com/mickaelli/reelforge/internal/store"
	"go.uber.org/zap"
)

// stageProgress maps each completed stage to the percent-complete value
// the Progress Publisher should write, per spec.md §4.3's progress
// milestones.
var stageProgress = map[string]int{
	pipeline.StageAudioSlice:   10,
	pipeline.StageBeats:        20,
	pipeline.StagePlan:         30,
	pipeline.StageCutAndConcat: 70,
	pipeline.StageStyleGrade:   85,
	pipeline.StageMux:          95,
	pipeline.StageQualityGate:  99,
}

// Config bounds retry behavior, independent of pipeline.StageTimeouts
// which bounds a single attempt.
type Config struct {
	Concurrency       int
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	TerminalRetention time.Duration
}

// Worker wraps an asynq.Server around the Pipeline Executor.
type Worker struct {
	redisOpt   asynq.RedisConnOpt
	cfg        Config
	artifacts  *store.ArtifactStore
	sm         *statemachine.Table
	executor   *pipeline.Executor
	timeouts   pipeline.StageTimeouts
	graceDelay time.Duration
	log        *zap.Logger

	srv *asynq.Server
}

// New builds a Worker. redisOpt is reused from the broker's connection
// so the consumer and producer sides agree on the same Redis instance.
func New(redisOpt asynq.RedisConnOpt, cfg Config, artifacts *store.ArtifactStore, sm *statemachine.Table, executor *pipeline.Executor, timeouts pipeline.StageTimeouts, graceDelay time.Duration, log *zap.Logger) *Worker {
	return &Worker{
		redisOpt:   redisOpt,
		cfg:        cfg,
		artifacts:  artifacts,
		sm:         sm,
		executor:   executor,
		timeouts:   timeouts,
		graceDelay: graceDelay,
		log:        log,
	}
}

// Run starts the asynq server and blocks until ctx is cancelled, the
// same run-until-signalled shape as the teacher's StartProcessor except
// this blocks the caller rather than forking a background goroutine, so
// cmd/reelforge can own the shutdown sequencing.
func (w *Worker) Run(ctx context.Context) error {
	w.srv = asynq.NewServer(w.redisOpt, asynq.Config{
		Concurrency:    w.cfg.Concurrency,
		RetryDelayFunc: w.retryDelay,
		Queues:         map[string]int{"default": 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskProcessJob, w.handleProcessJob)

	errCh := make(chan error, 1)
	go func() { errCh <- w.srv.Run(mux) }()

	select {
	case <-ctx.Done():
		w.srv.Shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}

// retryDelay implements min(T_base * 2^(attempt-1), T_cap), per spec.md
// §5's backoff policy for transient failures.
func (w *Worker) retryDelay(n int, err error, t *asynq.Task) time.Duration {
	delay := w.cfg.BackoffBase
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= w.cfg.BackoffCap {
			return w.cfg.BackoffCap
		}
	}
	if delay > w.cfg.BackoffCap {
		return w.cfg.BackoffCap
	}
	return delay
}

// handleProcessJob is the asynq.HandlerFunc for queue.TaskProcessJob. It
// never returns a bare retryable error past max_attempts worth of real
// pipeline attempts — fatal classifications are wrapped in
// asynq.SkipRetry so a single non-retryable failure doesn't also consume
// the independent asynq-level retry budget, the same pattern the
// teacher's HandleGenerateTask uses for its json.Unmarshal failure.
func (w *Worker) handleProcessJob(ctx context.Context, t *asynq.Task) error {
	jobID, err := queue.DecodePayload(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := w.sm.ToProcessing(ctx, jobID); err != nil {
		if err == store.ErrCASMismatch {
			w.log.Info("job pickup CAS lost, already in flight or terminal", zap.String("job_id", jobID))
			return nil
		}
		return fmt.Errorf("ToProcessing: %w", err)
	}

	job, err := w.artifacts.Metadata().GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	if job.AttemptCount >= w.cfg.MaxAttempts {
		jobErr := model.JobError{Kind: model.ErrFatalTool, Stage: "worker", Message: "max_attempts exceeded", Retryable: false}
		return w.failTerminal(ctx, jobID, jobErr, fmt.Errorf("%v: %w", jobErr.Message, asynq.SkipRetry))
	}

	if err := w.artifacts.Metadata().IncrementAttempt(ctx, jobID); err != nil {
		w.log.Warn("increment attempt failed", zap.String("job_id", jobID), zap.Error(err))
	}
	job.AttemptCount++

	clipIsImage, err := w.clipContentKinds(ctx, jobID, job.ClipCount)
	if err != nil {
		return fmt.Errorf("load clip inputs: %w", err)
	}

	stageJob := pipeline.StageJob{
		JobID:       jobID,
		Style:       job.Style,
		ClipCount:   job.ClipCount,
		ClipIsImage: clipIsImage,
		AudioStart:  job.AudioWindowStart,
		AudioEnd:    job.AudioWindowEnd,
		Timeouts:    w.timeouts,
		GraceDelay:  w.graceDelay,
	}

	runErr := w.executor.Run(ctx, stageJob, stageProgress)
	if runErr == nil {
		return w.succeed(ctx, jobID)
	}

	return w.handleStageError(ctx, jobID, job.AttemptCount, runErr)
}

// handleStageError classifies a failed run and writes the terminal or
// retry-eligible outcome. A retryable failure on the last allowed
// attempt is written as FAILED like a fatal one.
func (w *Worker) handleStageError(ctx context.Context, jobID string, attemptCount int, runErr error) error {
	kind := model.ErrFatalTool
	stage := "unknown"
	retryable := false

	if se, ok := runErr.(*pipeline.StageError); ok {
		stage = se.Stage
		switch se.Class {
		case pipeline.ClassTransientTool:
			kind, retryable = model.ErrTransientTool, true
		case pipeline.ClassFatalTool:
			kind, retryable = model.ErrFatalTool, false
		case pipeline.ClassTimeout:
			kind, retryable = model.ErrTransientTool, true
		case pipeline.ClassAnalysisFailed:
			kind, retryable = model.ErrAnalysisFailed, false
		case pipeline.ClassPlanInfeasible:
			kind, retryable = model.ErrPlanInfeasible, false
		case pipeline.ClassQualityGate:
			kind, retryable = model.ErrQualityGateFailed, false
		case pipeline.ClassCancelObserved:
			return w.cancelled(ctx, jobID)
		}
	}

	jobErr := model.JobError{Kind: kind, Stage: stage, Message: runErr.Error(), Retryable: retryable}

	if retryable && attemptCount < w.cfg.MaxAttempts {
		// Leave the job in PROCESSING; asynq's own retry (via
		// RetryDelayFunc) re-delivers the message, and the next
		// handleProcessJob call re-does the CAS (a no-op, already
		// PROCESSING) and re-runs from scratch.
		return fmt.Errorf("%s: %w", stage, runErr)
	}
	return w.failTerminal(ctx, jobID, jobErr, fmt.Errorf("%v: %w", jobErr.Message, asynq.SkipRetry))
}

// clipContentKinds reads each input clip's content_kind to tell the
// normalize stage bodies whether to branch to the still-image-to-video
// path or the plain video-normalize path.
func (w *Worker) clipContentKinds(ctx context.Context, jobID string, clipCount int) ([]bool, error) {
	isImage := make([]bool, clipCount)
	for i := 0; i < clipCount; i++ {
		a, err := w.artifacts.Metadata().GetArtifact(ctx, jobID, model.StageInput, fmt.Sprintf("input_clip_%d", i))
		if err != nil {
			return nil, err
		}
		isImage[i] = a.ContentKind == model.ContentImage
	}
	return isImage, nil
}

func (w *Worker) succeed(ctx context.Context, jobID string) error {
	output, err := w.artifacts.Metadata().GetArtifact(ctx, jobID, pipeline.StageMux, "muxed")
	if err != nil {
		jobErr := model.JobError{Kind: model.ErrFatalTool, Stage: "mux", Message: "output artifact missing after successful run", Retryable: false}
		return w.failTerminal(ctx, jobID, jobErr, fmt.Errorf("%v: %w", jobErr.Message, asynq.SkipRetry))
	}
	now := time.Now()
	retentionDeadline := now.Add(w.cfg.TerminalRetention)
	if err := w.sm.ToCompleted(ctx, jobID, output.ID, now, retentionDeadline); err != nil {
		return fmt.Errorf("ToCompleted: %w", err)
	}
	return nil
}

func (w *Worker) failTerminal(ctx context.Context, jobID string, jobErr model.JobError, wrapped error) error {
	now := time.Now()
	retentionDeadline := now.Add(w.cfg.TerminalRetention)
	if err := w.sm.ToFailed(ctx, jobID, jobErr, now, retentionDeadline); err != nil {
		w.log.Error("ToFailed transition failed", zap.String("job_id", jobID), zap.Error(err))
	}
	return wrapped
}

func (w *Worker) cancelled(ctx context.Context, jobID string) error {
	w.deletePartialArtifacts(ctx, jobID)

	now := time.Now()
	retentionDeadline := now.Add(w.cfg.TerminalRetention)
	if err := w.sm.ToCancelled(ctx, jobID, now, retentionDeadline); err != nil && err != store.ErrCASMismatch {
		w.log.Error("ToCancelled transition failed", zap.String("job_id", jobID), zap.Error(err))
	}
	return nil
}

// deletePartialArtifacts removes every artifact the pipeline had written
// for jobID by the time cancellation was observed, per spec.md §4.9:
// "partial artifacts for cancelled stages are deleted by the worker
// before releasing the job." Input artifacts (uploaded before the job
// ever ran) are left alone — only stage-produced outputs are cleaned up.
// A deletion failure is logged and otherwise ignored; the reaper's
// retention sweep will pick up anything left behind once the job's
// shortened CANCELLED retention_deadline passes.
func (w *Worker) deletePartialArtifacts(ctx context.Context, jobID string) {
	artifacts, err := w.artifacts.ListArtifacts(ctx, jobID)
	if err != nil {
		w.log.Warn("list artifacts for cancellation cleanup failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	for _, a := range artifacts {
		if a.Stage == model.StageInput {
			continue
		}
		if err := w.artifacts.DeleteArtifact(ctx, a); err != nil {
			w.log.Warn("delete partial artifact failed", zap.String("job_id", jobID), zap.String("artifact_id", a.ID), zap.Error(err))
		}
	}
}
