package model

import "time"

// Content kinds for an Artifact.
const (
	ContentVideo = "video"
	ContentAudio = "audio"
	ContentImage = "image"
	ContentJSON  = "json"
)

// StageInput is the pseudo-stage name used for user-uploaded Artifacts.
const StageInput = "input"

// Artifact is an immutable file produced or consumed by a stage, addressed
// by (JobID, Stage, Name). See spec.md §3.
type Artifact struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	JobID       string    `gorm:"type:varchar(64);index:idx_job_stage_name,unique" json:"jobId"`
	Stage       string    `gorm:"type:varchar(64);index:idx_job_stage_name,unique" json:"stage"`
	Name        string    `gorm:"type:varchar(128);index:idx_job_stage_name,unique" json:"name"`
	BlobKey     string    `gorm:"type:varchar(255)" json:"blobKey"`
	Size        int64     `json:"size"`
	ContentKind string    `gorm:"type:varchar(16)" json:"contentKind"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (Artifact) TableName() string { return "artifacts" }

// Key returns the artifact's blob-store path, matching spec.md §6's
// "{job_id}/{stage}/{name}" naming rule.
func Key(jobID, stage, name string) string {
	return jobID + "/" + stage + "/" + name
}

// ArtifactRef is what the external HTTP surface passes into JobService.Create:
// a reference to an already-stored input artifact.
type ArtifactRef struct {
	ArtifactID  string `json:"artifactId" validate:"required"`
	ContentKind string `json:"contentKind" validate:"required,oneof=video audio image"`
}
