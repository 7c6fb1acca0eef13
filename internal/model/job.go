package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Job status. Terminal statuses are absorbing; all writes go through
// statemachine.Table.
const (
	JobPending    = "PENDING"
	JobUploading  = "UPLOADING"
	JobProcessing = "PROCESSING"
	JobCompleted  = "COMPLETED"
	JobFailed     = "FAILED"
	JobCancelled  = "CANCELLED"
)

// Error kinds surfaced to Job.Error.Kind.
const (
	ErrInvalidInput       = "InvalidInput"
	ErrStorageUnavailable = "StorageUnavailable"
	ErrTransientTool      = "TransientTool"
	ErrFatalTool          = "FatalTool"
	ErrAnalysisFailed     = "AnalysisFailed"
	ErrPlanInfeasible     = "PlanInfeasible"
	ErrQualityGateFailed  = "QualityGateFailed"
	ErrCancelled          = "Cancelled"
)

var retryableKinds = map[string]bool{
	ErrStorageUnavailable: true,
	ErrTransientTool:      true,
}

// IsRetryable reports whether a fresh error of this kind should be
// retried by the worker, independent of whatever retryable flag a caller
// already set on a JobError value.
func IsRetryable(kind string) bool {
	return retryableKinds[kind]
}

// JobError is the structured error persisted on a failed Job.
type JobError struct {
	Kind      string `json:"kind"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Value implements driver.Valuer so JobError stores as a JSON column,
// mirroring the teacher's TaskParameters/TaskResult Value()/Scan() pair.
func (e JobError) Value() (driver.Value, error) {
	if e.Kind == "" {
		return nil, nil
	}
	return json.Marshal(e)
}

// Scan implements sql.Scanner.
func (e *JobError) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("JobError.Scan: expected []byte")
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, e)
}

// Job is the durable unit of work described in spec.md §3.
type Job struct {
	ID                string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Status            string     `gorm:"type:varchar(32);index" json:"status"`
	Style             string     `gorm:"type:varchar(32)" json:"style"`
	Progress          int        `json:"progress"`
	CurrentStep       string     `gorm:"type:varchar(255)" json:"currentStep"`
	Error             JobError   `gorm:"type:json" json:"error"`
	OutputArtifactID  string     `gorm:"type:varchar(64)" json:"outputArtifactId,omitempty"`
	AttemptCount      int        `json:"attemptCount"`
	LastPickupAt      time.Time  `json:"lastPickupAt"`
	RetentionDeadline time.Time  `gorm:"index" json:"retentionDeadline"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`

	AudioWindowStart float64 `json:"audioWindowStart"`
	AudioWindowEnd   float64 `json:"audioWindowEnd"`
	ClipCount        int     `json:"clipCount"`
}

func (Job) TableName() string { return "jobs" }

// IsTerminal reports whether status is one of the three absorbing states.
func IsTerminal(status string) bool {
	switch status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}
