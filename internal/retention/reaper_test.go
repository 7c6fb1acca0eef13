package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mickaelli/reelforge/internal/model"
	"go.uber.org/zap"
)

type fakeStore struct {
	jobs         []model.Job
	artifacts    map[string][]model.Artifact
	deletedBlobs []string
	deletedJobs  []string
	failBlobID   string
}

func (f *fakeStore) ListReapableJobs(ctx context.Context, now time.Time) ([]model.Job, error) {
	return f.jobs, nil
}

func (f *fakeStore) ListArtifacts(ctx context.Context, jobID string) ([]model.Artifact, error) {
	return f.artifacts[jobID], nil
}

func (f *fakeStore) DeleteArtifact(ctx context.Context, a model.Artifact) error {
	if a.ID == f.failBlobID {
		return errors.New("blob store unavailable")
	}
	f.deletedBlobs = append(f.deletedBlobs, a.ID)
	return nil
}

func (f *fakeStore) DeleteJobRow(ctx context.Context, jobID string) error {
	f.deletedJobs = append(f.deletedJobs, jobID)
	return nil
}

func TestSweepDeletesArtifactsThenJobRow(t *testing.T) {
	s := &fakeStore{
		jobs: []model.Job{{ID: "job1"}},
		artifacts: map[string][]model.Artifact{
			"job1": {{ID: "a1"}, {ID: "a2"}},
		},
	}
	r := New(s, zap.NewNop())

	reaped, err := r.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("expected 1 reaped job, got %d", reaped)
	}
	if len(s.deletedBlobs) != 2 {
		t.Fatalf("expected 2 blob deletions, got %d", len(s.deletedBlobs))
	}
	if len(s.deletedJobs) != 1 || s.deletedJobs[0] != "job1" {
		t.Fatalf("expected job1 row deleted, got %v", s.deletedJobs)
	}
}

func TestSweepSkipsJobOnPartialBlobFailure(t *testing.T) {
	s := &fakeStore{
		jobs: []model.Job{{ID: "job1"}},
		artifacts: map[string][]model.Artifact{
			"job1": {{ID: "a1"}, {ID: "a2"}},
		},
		failBlobID: "a2",
	}
	r := New(s, zap.NewNop())

	reaped, err := r.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if reaped != 0 {
		t.Fatalf("expected 0 reaped jobs on partial failure, got %d", reaped)
	}
	if len(s.deletedJobs) != 0 {
		t.Fatalf("job row must not be deleted when a blob deletion failed, got %v", s.deletedJobs)
	}
}

func TestSweepIsIdempotentAcrossRuns(t *testing.T) {
	s := &fakeStore{
		jobs: []model.Job{{ID: "job1"}},
		artifacts: map[string][]model.Artifact{
			"job1": {{ID: "a1"}},
		},
	}
	r := New(s, zap.NewNop())

	if _, err := r.Sweep(context.Background(), time.Now()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	// A second sweep over the same (now-exhausted) artifact list for the
	// same job must not error or double-delete.
	s.artifacts["job1"] = nil
	if _, err := r.Sweep(context.Background(), time.Now()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
}
