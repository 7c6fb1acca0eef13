// Package progress is the Progress Publisher (spec.md §4's component
// table, row 9): it serializes stage-level progress into monotonic
// (percent, step) updates on the Job row, rejecting any update whose
// percent regresses. High-frequency updates for the same job are
// coalesced through a Redis debounce key, the same go-redis client
// celalettindemir-make-singer-backend's worker/websocket-hub split keeps
// around for cross-process state (SPEC_FULL.md §6).
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProgressWriter is the subset of store.MetadataStore the Publisher
// needs, kept as an interface so tests can substitute a fake instead of
// a real MySQL-backed store.
type ProgressWriter interface {
	UpdateProgress(ctx context.Context, jobID string, percent int, step string) error
}

// Publisher updates Job.progress/current_step, enforcing monotonicity at
// the metadata store and coalescing bursts of updates per job through
// Redis so a fast-moving fan-out stage doesn't hammer the metadata store
// with one write per clip per second.
type Publisher struct {
	metadata ProgressWriter
	redis    *redis.Client
	debounce time.Duration
	log      *zap.Logger
}

// New builds a Publisher. debounce is the minimum interval between two
// accepted writes for the same job; set to zero to
// disable coalescing (every call reaches the metadata store).
func New(metadata ProgressWriter, redisClient *redis.Client, debounce time.Duration, log *zap.Logger) *Publisher {
	return &Publisher{metadata: metadata, redis: redisClient, debounce: debounce, log: log}
}

// Update applies a monotonic (percent, step) update for jobID. If a
// Redis debounce key for this job was set within the debounce window,
// the call is dropped silently (coalesced) unless percent reaches 100,
// which is always let through so terminal progress is never swallowed.
func (p *Publisher) Update(ctx context.Context, jobID string, percent int, step string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	if p.redis != nil && p.debounce > 0 && percent != 100 {
		key := debounceKey(jobID)
		set, err := p.redis.SetNX(ctx, key, "1", p.debounce).Result()
		if err != nil {
			p.log.Warn("progress debounce check failed, writing through", zap.Error(err))
		} else if !set {
			return nil
		}
	}

	if err := p.metadata.UpdateProgress(ctx, jobID, percent, step); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func debounceKey(jobID string) string {
	return "reelforge:progress:debounce:" + jobID
}
