package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mickaelli/reelforge/internal/model"
	"go.uber.org/zap"
)

type fakeReaper struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeReaper) Sweep(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0, nil
}

type fakeAbandonedStore struct {
	jobs []model.Job
}

func (f *fakeAbandonedStore) ListAbandonedProcessing(ctx context.Context, threshold time.Time) ([]model.Job, error) {
	return f.jobs, nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []string
}

func (f *fakeEnqueuer) EnqueueStart(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func TestRunAbandonedDetectorReenqueuesEachJob(t *testing.T) {
	store := &fakeAbandonedStore{jobs: []model.Job{{ID: "job1"}, {ID: "job2"}}}
	enq := &fakeEnqueuer{}
	s := New(&fakeReaper{}, store, enq, 15*time.Minute, 2*time.Minute, zap.NewNop())

	s.runAbandonedDetector()

	if len(enq.enqueued) != 2 {
		t.Fatalf("expected 2 re-enqueues, got %d", len(enq.enqueued))
	}
}

func TestRunReaperSweepInvokesReaper(t *testing.T) {
	r := &fakeReaper{}
	s := New(r, &fakeAbandonedStore{}, &fakeEnqueuer{}, 15*time.Minute, 2*time.Minute, zap.NewNop())

	s.runReaperSweep()

	if r.calls != 1 {
		t.Fatalf("expected reaper.Sweep called once, got %d", r.calls)
	}
}
