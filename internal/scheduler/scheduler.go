// Package scheduler runs the Retention Reaper and the abandoned-job
// re-enqueue detector on fixed intervals (spec.md §4.9), using
// robfig/cron/v3 — the cron library xifofo-film-fusion and
// (indirectly, through its own scheduled jobs) celalettindemir-make-
// singer-backend both carry.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mickaelli/reelforge/internal/model"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reaper is the subset of retention.Reaper the Scheduler drives.
type Reaper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// AbandonedJobStore is the subset of MetadataStore the abandoned-job
// detector needs.
type AbandonedJobStore interface {
	ListAbandonedProcessing(ctx context.Context, threshold time.Time) ([]model.Job, error)
}

// Enqueuer re-submits a start message for an abandoned job, the same
// broker entrypoint JobService.Create uses.
type Enqueuer interface {
	EnqueueStart(ctx context.Context, jobID string) error
}

// Scheduler owns one cron instance running both periodic tasks.
type Scheduler struct {
	cron       *cron.Cron
	reaper     Reaper
	jobs       AbandonedJobStore
	enqueuer   Enqueuer
	visTimeout time.Duration
	visSlack   time.Duration
	log        *zap.Logger
}

// New builds a Scheduler. visTimeout is T_vis (default 15 min), visSlack
// is T_slack (default 2 min) — a job in PROCESSING with last_pickup_at
// older than visTimeout+visSlack is considered abandoned.
func New(reaper Reaper, jobs AbandonedJobStore, enqueuer Enqueuer, visTimeout, visSlack time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		reaper:     reaper,
		jobs:       jobs,
		enqueuer:   enqueuer,
		visTimeout: visTimeout,
		visSlack:   visSlack,
		log:        log,
	}
}

// Start registers both cron entries and starts the scheduler's own
// goroutine. sweepInterval governs both entries (spec.md §4.9 groups
// them in "the same interval family").
func (s *Scheduler) Start(sweepInterval time.Duration) error {
	spec := fmt.Sprintf("@every %s", sweepInterval.String())

	if _, err := s.cron.AddFunc(spec, s.runReaperSweep); err != nil {
		return fmt.Errorf("register reaper sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(spec, s.runAbandonedDetector); err != nil {
		return fmt.Errorf("register abandoned detector: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight run to
// finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runReaperSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	reaped, err := s.reaper.Sweep(ctx, time.Now())
	if err != nil {
		s.log.Error("reaper sweep failed", zap.Error(err))
		return
	}
	s.log.Info("reaper sweep complete", zap.Int("reaped", reaped))
}

// runAbandonedDetector re-enqueues the start message for any job stuck
// in PROCESSING past T_vis+T_slack. The state-machine guard on pickup
// (PENDING|PROCESSING -> PROCESSING, itself a CAS) ensures at most one
// worker ultimately acts on the re-enqueued message even if the original
// worker was merely slow rather than dead.
func (s *Scheduler) runAbandonedDetector() {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	threshold := time.Now().Add(-(s.visTimeout + s.visSlack))
	abandoned, err := s.jobs.ListAbandonedProcessing(ctx, threshold)
	if err != nil {
		s.log.Error("list abandoned jobs failed", zap.Error(err))
		return
	}

	for _, job := range abandoned {
		if err := s.enqueuer.EnqueueStart(ctx, job.ID); err != nil {
			s.log.Error("re-enqueue abandoned job failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		s.log.Info("re-enqueued abandoned job", zap.String("job_id", job.ID))
	}
}
