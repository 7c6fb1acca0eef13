package queue

import (
	"testing"

	"github.com/hibiken/asynq"
)

func TestDecodePayloadRoundTrips(t *testing.T) {
	payload, err := marshalPayload(jobPayload{JobID: "job-123"})
	if err != nil {
		t.Fatalf("marshalPayload: %v", err)
	}
	task := asynq.NewTask(TaskProcessJob, payload)

	jobID, err := DecodePayload(task)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if jobID != "job-123" {
		t.Fatalf("expected job-123, got %q", jobID)
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	task := asynq.NewTask(TaskProcessJob, []byte("not json"))
	if _, err := DecodePayload(task); err == nil {
		t.Fatal("expected error decoding invalid payload")
	}
}
