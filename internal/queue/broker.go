// Package queue is the FIFO broker collaborator from spec.md §1,
// implemented over Redis via hibiken/asynq — the same broker the teacher
// and celalettindemir-make-singer-backend both carry. It wraps asynq
// just enough to give the rest of the repository a narrow
// EnqueueStart/DecodePayload contract instead of leaking asynq types.
package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskProcessJob is the single task type the Worker's asynq.ServeMux
// registers a handler for (spec.md §4.2).
const TaskProcessJob = "reel:process"

// jobPayload is the asynq task payload: just the job_id, per spec.md
// §4.1's "enqueues a single start message {job_id}".
type jobPayload struct {
	JobID string `json:"job_id"`
}

// Broker is the FIFO enqueue side over asynq; the Worker's own
// asynq.Server does the dequeuing.
type Broker struct {
	client *asynq.Client
}

// New builds a Broker against the given Redis connection options.
func New(redisOpt asynq.RedisConnOpt) *Broker {
	return &Broker{client: asynq.NewClient(redisOpt)}
}

// Close releases the underlying Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// EnqueueStart enqueues the start message {job_id} with no delay, per
// spec.md §4.1. Used by both JobService.Create and the Scheduler's
// abandoned-job re-enqueue detector.
func (b *Broker) EnqueueStart(ctx context.Context, jobID string) error {
	payload, err := marshalPayload(jobPayload{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskProcessJob, payload)
	if _, err := b.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// DecodePayload extracts the job_id from a task delivered to the
// Worker's handler.
func DecodePayload(t *asynq.Task) (string, error) {
	var p jobPayload
	if err := unmarshalPayload(t.Payload(), &p); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	return p.JobID, nil
}
