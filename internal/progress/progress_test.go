package progress

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type fakeWriter struct {
	mu      sync.Mutex
	highest int
	calls   int
	fail    error
}

func (f *fakeWriter) UpdateProgress(ctx context.Context, jobID string, percent int, step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.calls++
	if percent > f.highest {
		f.highest = percent
	}
	return nil
}

func TestUpdateClampsOutOfRangePercent(t *testing.T) {
	w := &fakeWriter{}
	p := New(w, nil, 0, zap.NewNop())

	if err := p.Update(context.Background(), "job1", 150, "mux"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if w.highest != 100 {
		t.Fatalf("expected clamped to 100, got %d", w.highest)
	}

	if err := p.Update(context.Background(), "job1", -5, "audio_slice"); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestUpdateWithoutRedisAlwaysWritesThrough(t *testing.T) {
	w := &fakeWriter{}
	p := New(w, nil, 0, zap.NewNop())

	for i := 0; i < 5; i++ {
		if err := p.Update(context.Background(), "job1", i*10, "stage"); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if w.calls != 5 {
		t.Fatalf("expected 5 write-throughs with no redis client, got %d", w.calls)
	}
}

func TestUpdatePropagatesMetadataError(t *testing.T) {
	w := &fakeWriter{fail: errors.New("db unavailable")}
	p := New(w, nil, 0, zap.NewNop())

	if err := p.Update(context.Background(), "job1", 50, "stage"); err == nil {
		t.Fatal("expected error to propagate")
	}
}
