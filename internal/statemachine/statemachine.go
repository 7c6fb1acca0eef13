// Package statemachine is the central table of allowed Job.status
// transitions and the guard conditions on each edge, per spec.md §4.10.
// All status writes in this repository go through one of Table's
// To* methods so no component ever issues a raw status UPDATE directly.
package statemachine

import (
	"context"

	"github.com/mickaelli/reelforge/internal/model"
	"github.com/mickaelli/reelforge/internal/store"
)

// Table is the guarded transition table, backed by the metadata store's
// compare-and-set UPDATE.
type Table struct {
	metadata *store.MetadataStore
}

// New builds a Table over the given metadata store.
func New(metadata *store.MetadataStore) *Table {
	return &Table{metadata: metadata}
}

// allowed lists, for each target status, the statuses a job may be
// coming from. Terminal statuses never appear as a "from" — the guard
// enforces "terminal -> any is forbidden" by omission.
var allowed = map[string][]string{
	model.JobProcessing: {model.JobPending, model.JobProcessing},
	model.JobCompleted:  {model.JobPending, model.JobProcessing},
	model.JobFailed:     {model.JobPending, model.JobProcessing},
	model.JobCancelled:  {model.JobPending, model.JobProcessing},
}

// ToProcessing performs the worker-pickup CAS: PENDING|PROCESSING ->
// PROCESSING. Fails silently (returns store.ErrCASMismatch) if another
// worker already won the race — the caller is expected to treat that as
// "someone else has it" and move on, not as an error worth surfacing.
func (t *Table) ToProcessing(ctx context.Context, jobID string) error {
	return t.metadata.CompareAndSwapStatus(ctx, jobID, allowed[model.JobProcessing], model.JobProcessing, nil)
}

// ToCompleted transitions to COMPLETED, writing output_artifact_id and
// completed_at/retention_deadline in the same CAS — "output_artifact_id
// was set in the same transaction" per spec.md §4.10.
func (t *Table) ToCompleted(ctx context.Context, jobID, outputArtifactID string, completedAt interface{}, retentionDeadline interface{}) error {
	extra := map[string]interface{}{
		"output_artifact_id": outputArtifactID,
		"completed_at":       completedAt,
		"retention_deadline": retentionDeadline,
		"progress":           100,
	}
	return t.metadata.CompareAndSwapStatus(ctx, jobID, allowed[model.JobCompleted], model.JobCompleted, extra)
}

// ToFailed transitions to FAILED, writing the structured error in the
// same CAS — "error persisted in same transaction" per spec.md §4.10.
func (t *Table) ToFailed(ctx context.Context, jobID string, jobErr model.JobError, completedAt interface{}, retentionDeadline interface{}) error {
	extra := map[string]interface{}{
		"error":              jobErr,
		"completed_at":       completedAt,
		"retention_deadline": retentionDeadline,
	}
	return t.metadata.CompareAndSwapStatus(ctx, jobID, allowed[model.JobFailed], model.JobFailed, extra)
}

// ToCancelled transitions to CANCELLED. Idempotent across concurrent
// callers: at most one caller's CAS succeeds, per spec.md §8's testable
// property on concurrent Cancel calls.
func (t *Table) ToCancelled(ctx context.Context, jobID string, completedAt interface{}, retentionDeadline interface{}) error {
	extra := map[string]interface{}{
		"completed_at":       completedAt,
		"retention_deadline": retentionDeadline,
		"error": model.JobError{
			Kind:      model.ErrCancelled,
			Message:   "job cancelled by user",
			Retryable: false,
		},
	}
	return t.metadata.CompareAndSwapStatus(ctx, jobID, allowed[model.JobCancelled], model.JobCancelled, extra)
}

// Allowed reports whether the edge from -> to is present in the table.
// Exposed for tests and for components that want to pre-check without
// attempting a write.
func Allowed(from, to string) bool {
	if model.IsTerminal(from) {
		return false
	}
	for _, f := range allowed[to] {
		if f == from {
			return true
		}
	}
	return false
}
