// Package retention is the Retention Reaper (spec.md §4.8): a periodic
// sweep that deletes artifacts and job rows past their retention
// deadline, blobs-then-rows-then-job, idempotent and safe to retry.
// Grounded on the original's cleanup_old_jobs / cleanup_old_outputs
// Celery tasks, generalized from deleting a single flat output.mp4 to
// the full artifact-then-row-then-job cascade spec.md requires.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/mickaelli/reelforge/internal/model"
	"go.uber.org/zap"
)

// Store is the subset of ArtifactStore the Reaper needs, kept as an
// interface so tests can substitute a fake instead of a real MinIO +
// MySQL-backed store.
type Store interface {
	ListReapableJobs(ctx context.Context, now time.Time) ([]model.Job, error)
	ListArtifacts(ctx context.Context, jobID string) ([]model.Artifact, error)
	DeleteArtifact(ctx context.Context, a model.Artifact) error
	DeleteJobRow(ctx context.Context, jobID string) error
}

// Reaper sweeps for jobs past their retention deadline and deletes them.
type Reaper struct {
	store Store
	log   *zap.Logger
}

// New builds a Reaper over the given Store.
func New(s Store, log *zap.Logger) *Reaper {
	return &Reaper{store: s, log: log}
}

// Sweep runs one pass: for every job whose retention_deadline has
// passed, delete its artifacts one at a time (blob then row), then its
// job row. When a blob deletion fails, the artifacts deleted before it
// stay deleted; the failed artifact, the ones after it and the job row
// are kept for the next cycle.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (reaped int, err error) {
	jobs, err := r.store.ListReapableJobs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list reapable jobs: %w", err)
	}

	for _, job := range jobs {
		if err := r.reapOne(ctx, job.ID); err != nil {
			r.log.Warn("reap failed, will retry next cycle", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		reaped++
	}
	return reaped, nil
}

// reapOne deletes every artifact row+blob for jobID, then the job row
// itself. It stops at the first blob-deletion failure, leaving the
// remaining artifacts and the job row intact for a later retry — the
// reaper never deletes a job row while artifacts still reference it.
func (r *Reaper) reapOne(ctx context.Context, jobID string) error {
	artifacts, err := r.store.ListArtifacts(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list artifacts for job %s: %w", jobID, err)
	}

	for _, a := range artifacts {
		if err := r.store.DeleteArtifact(ctx, a); err != nil {
			return fmt.Errorf("delete artifact %s: %w", a.ID, err)
		}
	}

	if err := r.store.DeleteJobRow(ctx, jobID); err != nil {
		return fmt.Errorf("delete job row %s: %w", jobID, err)
	}
	r.log.Info("reaped job", zap.String("job_id", jobID), zap.Int("artifact_count", len(artifacts)))
	return nil
}
