// Package jobservice is the public façade (spec.md §4.1): Create, Get,
// Cancel. Validates input with go-playground/validator/v10, the way
// celalettindemir-make-singer-backend's RenderStartRequest validates its
// render brief.
package jobservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mickaelli/reelforge/internal/config"
	"github.com/mickaelli/reelforge/internal/model"
	"github.com/mickaelli/reelforge/internal/statemachine"
	"github.com/mickaelli/reelforge/internal/store"
	"github.com/mickaelli/reelforge/internal/toolinvoker"
	"go.uber.org/zap"
)

// audioProbeTimeout bounds the ffprobe call Create makes to read the
// uploaded audio artifact's duration before validating audio_window
// against it — a local metadata read, not a transform, so it gets a
// short fixed budget rather than one of pipeline.StageTimeouts.
const audioProbeTimeout = 10 * time.Second

// errFileTooLarge is the sentinel Create checks for to tell an
// input-too-big rejection apart from a genuine storage failure, even
// though both surface from the same newInputArtifact call.
var errFileTooLarge = errors.New("artifact exceeds configured max_file_size")

// ErrStorageUnavailable wraps model.ErrStorageUnavailable as an actual
// error value so Create's failures can participate in errors.Is/%w —
// model.ErrStorageUnavailable itself is just the error-kind string
// persisted on Job.Error.Kind.
var ErrStorageUnavailable = errors.New(model.ErrStorageUnavailable)

// Enqueuer is the narrow broker contract Create depends on.
type Enqueuer interface {
	EnqueueStart(ctx context.Context, jobID string) error
}

// CreateRequest is the Job creation input set from spec.md §6:
// {clips, audio, audio_window, style}.
type CreateRequest struct {
	Clips       []model.ArtifactRef `validate:"required,min=1,dive"`
	Audio       model.ArtifactRef   `validate:"required"`
	WindowStart float64             `validate:"gte=0"`
	WindowEnd   float64             `validate:"gtfield=WindowStart"`
	Style       string              `validate:"required,oneof=cinematic_drama energetic_dance luxe_travel modern_minimal"`
}

// JobView is what Get returns: the Job row, the output artifact's public
// URL when present, and the job's style's human-readable description
// (SPEC_FULL.md §7's supplemented style metadata).
type JobView struct {
	Job              model.Job
	OutputURL        string
	StyleDescription string
}

// Service implements Create/Get/Cancel.
type Service struct {
	artifacts      *store.ArtifactStore
	statemachine   *statemachine.Table
	enqueuer       Enqueuer
	probe          *toolinvoker.Invoker
	validate       *validator.Validate
	validation     config.ValidationConfig
	retentionAfter time.Duration
	outputExpiry   time.Duration
	log            *zap.Logger
}

// ErrInvalidInput wraps a validator.ValidationErrors failure, surfaced
// as model.ErrInvalidInput to the caller.
type ErrInvalidInput struct {
	Err error
}

func (e *ErrInvalidInput) Error() string { return fmt.Sprintf("invalid input: %v", e.Err) }
func (e *ErrInvalidInput) Unwrap() error { return e.Err }

// New builds a Service. retentionAfter is the non-terminal abandoned-job
// retention horizon used to set retention_deadline at creation time
// (default 24h, per spec.md §4.8) — tightened to a shorter horizon on
// any terminal transition by the Worker.
func New(artifacts *store.ArtifactStore, sm *statemachine.Table, enqueuer Enqueuer, probe *toolinvoker.Invoker, validation config.ValidationConfig, retentionAfter, outputExpiry time.Duration, log *zap.Logger) *Service {
	v := validator.New()
	v.RegisterStructValidation(validateWindowLength, CreateRequest{})
	return &Service{
		artifacts:      artifacts,
		statemachine:   sm,
		enqueuer:       enqueuer,
		probe:          probe,
		validate:       v,
		validation:     validation,
		retentionAfter: retentionAfter,
		outputExpiry:   outputExpiry,
		log:            log,
	}
}

// validateWindowLength enforces "audio_window.end_sec - start_sec must
// equal 30" (spec.md §6), a struct-level check validator's field tags
// alone can't express precisely as an equality on a difference.
func validateWindowLength(sl validator.StructLevel) {
	req := sl.Current().Interface().(CreateRequest)
	if req.WindowEnd-req.WindowStart != 30 {
		sl.ReportError(req.WindowEnd, "WindowEnd", "WindowEnd", "window_length_30", "")
	}
}

// validateCreateRequest checks content-kind agreement (audio must be
// ContentAudio, clips must be video/image) and the configured clip-count
// ceiling before handing off to the struct validator, since neither is
// expressible as a static validator tag: "oneof" can't branch on which
// field, and max_clip_count is a runtime config value, not a constant.
// Returns *ErrInvalidInput on any failure.
func validateCreateRequest(v *validator.Validate, req CreateRequest, maxClipCount int) error {
	if req.Audio.ContentKind != model.ContentAudio {
		return &ErrInvalidInput{Err: fmt.Errorf("audio artifact must have content_kind=audio, got %q", req.Audio.ContentKind)}
	}
	if maxClipCount > 0 && len(req.Clips) > maxClipCount {
		return &ErrInvalidInput{Err: fmt.Errorf("clip_count %d exceeds max_clip_count %d", len(req.Clips), maxClipCount)}
	}
	for i, c := range req.Clips {
		if c.ContentKind != model.ContentVideo && c.ContentKind != model.ContentImage {
			return &ErrInvalidInput{Err: fmt.Errorf("clip %d has invalid content_kind %q", i, c.ContentKind)}
		}
	}
	if err := v.Struct(req); err != nil {
		return &ErrInvalidInput{Err: err}
	}
	return nil
}

// Create validates req, persists the Job row with its linked input
// Artifacts in one transaction, enqueues the start message, and returns
// the new job_id. On any validation failure it returns *ErrInvalidInput
// without touching storage. On a storage or enqueue failure it returns
// an error wrapping model.ErrStorageUnavailable semantics (the metadata
// store's transaction rolls back a failed row write; after an enqueue
// failure Create deletes the job and input rows it wrote).
func (s *Service) Create(ctx context.Context, req CreateRequest) (string, error) {
	if err := validateCreateRequest(s.validate, req, s.validation.MaxClipCount); err != nil {
		return "", err
	}

	audioDuration, err := s.probeAudioDuration(ctx, req.Audio.ArtifactID)
	if err != nil {
		return "", fmt.Errorf("%w: probe audio duration: %v", ErrStorageUnavailable, err)
	}
	if req.WindowEnd > audioDuration {
		return "", &ErrInvalidInput{Err: fmt.Errorf("audio_window end %.3fs exceeds audio duration %.3fs", req.WindowEnd, audioDuration)}
	}

	jobID := uuid.NewString()
	now := time.Now()
	job := &model.Job{
		ID:                jobID,
		Status:            model.JobPending,
		Style:             req.Style,
		Progress:          0,
		AttemptCount:      0,
		CreatedAt:         now,
		UpdatedAt:         now,
		RetentionDeadline: now.Add(s.retentionAfter),
		AudioWindowStart:  req.WindowStart,
		AudioWindowEnd:    req.WindowEnd,
		ClipCount:         len(req.Clips),
	}

	// req.Audio.ArtifactID / c.ArtifactID are blob keys the external HTTP
	// surface already wrote to the blob store during upload (spec.md
	// §4.1: "already-stored input artifact references"). JobService owns
	// the Artifact row itself — it mints the row's ID and stats the blob
	// for its size rather than trusting a caller-supplied value.
	inputs := make([]model.Artifact, 0, len(req.Clips)+1)
	audioInput, err := s.newInputArtifact(ctx, jobID, "input_audio", req.Audio, now)
	if err != nil {
		if errors.Is(err, errFileTooLarge) {
			return "", &ErrInvalidInput{Err: fmt.Errorf("audio input: %w", err)}
		}
		return "", fmt.Errorf("%w: stat audio input: %v", ErrStorageUnavailable, err)
	}
	inputs = append(inputs, audioInput)
	for i, c := range req.Clips {
		clipInput, err := s.newInputArtifact(ctx, jobID, fmt.Sprintf("input_clip_%d", i), c, now)
		if err != nil {
			if errors.Is(err, errFileTooLarge) {
				return "", &ErrInvalidInput{Err: fmt.Errorf("clip %d: %w", i, err)}
			}
			return "", fmt.Errorf("%w: stat clip %d input: %v", ErrStorageUnavailable, i, err)
		}
		inputs = append(inputs, clipInput)
	}

	if err := s.artifacts.Metadata().CreateJobWithInputs(ctx, job, inputs); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if err := s.enqueuer.EnqueueStart(ctx, jobID); err != nil {
		// The rows are already committed and the Scheduler only re-enqueues
		// PROCESSING jobs, so delete the input rows and the job row again.
		// The input blobs belong to the upload surface and are kept.
		md := s.artifacts.Metadata()
		for _, a := range inputs {
			if derr := md.DeleteArtifactRow(ctx, a.ID); derr != nil {
				s.log.Warn("rollback input artifact row failed", zap.String("job_id", jobID), zap.Error(derr))
			}
		}
		if derr := md.DeleteJobRow(ctx, jobID); derr != nil {
			s.log.Warn("rollback job row failed", zap.String("job_id", jobID), zap.Error(derr))
		}
		return "", fmt.Errorf("%w: enqueue failed: %v", ErrStorageUnavailable, err)
	}

	return jobID, nil
}

// probeAudioDuration downloads the audio blob to a scratch file and
// reads its duration back via ffprobe, so Create can reject an
// audio_window that falls outside the actual audio's length (spec.md
// §4.1: "window lies within audio duration (extracted lazily)") rather
// than deferring the failure to the audio_slice stage body.
func (s *Service) probeAudioDuration(ctx context.Context, blobKey string) (float64, error) {
	r, err := s.artifacts.Blobs().Get(ctx, blobKey)
	if err != nil {
		return 0, fmt.Errorf("fetch audio blob: %w", err)
	}
	defer r.Close()

	tmp, err := os.CreateTemp("", "reelforge-audio-probe-*")
	if err != nil {
		return 0, fmt.Errorf("create scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("copy audio blob: %w", copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close scratch file: %w", closeErr)
	}

	argv := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		tmpPath,
	}
	stdout, res, err := s.probe.Output(ctx, toolinvoker.Invocation{Argv: argv, Timeout: audioProbeTimeout})
	if err != nil {
		return 0, fmt.Errorf("run ffprobe: %w", err)
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("ffprobe exit %d: %s", res.ExitCode, toolinvoker.TrimStderr(res.StderrTail, 2048))
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(stdout)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return duration, nil
}

// newInputArtifact builds the Artifact row linking an already-uploaded
// blob to jobID under model.StageInput, statting the blob to fill in
// Size rather than trusting the caller, and rejecting it with
// errFileTooLarge if it exceeds the configured max_file_size.
func (s *Service) newInputArtifact(ctx context.Context, jobID, name string, ref model.ArtifactRef, now time.Time) (model.Artifact, error) {
	size, err := s.artifacts.Blobs().Stat(ctx, ref.ArtifactID)
	if err != nil {
		return model.Artifact{}, err
	}
	if s.validation.MaxFileSize > 0 && size > s.validation.MaxFileSize {
		return model.Artifact{}, fmt.Errorf("%w: %d bytes > max_file_size %d", errFileTooLarge, size, s.validation.MaxFileSize)
	}
	return model.Artifact{
		ID:          uuid.NewString(),
		JobID:       jobID,
		Stage:       model.StageInput,
		Name:        name,
		BlobKey:     ref.ArtifactID,
		Size:        size,
		ContentKind: ref.ContentKind,
		CreatedAt:   now,
	}, nil
}

// Get returns the current Job row plus the output artifact's presigned
// URL when the job is COMPLETED.
func (s *Service) Get(ctx context.Context, jobID string) (JobView, error) {
	job, err := s.artifacts.Metadata().GetJob(ctx, jobID)
	if err != nil {
		return JobView{}, err
	}

	view := JobView{Job: *job, StyleDescription: model.Styles[job.Style].Description}
	if job.Status == model.JobCompleted && job.OutputArtifactID != "" {
		artifact, err := s.artifacts.Metadata().GetArtifactByID(ctx, job.OutputArtifactID)
		if err == nil {
			url, err := s.artifacts.Blobs().PresignedURL(ctx, artifact.BlobKey, s.outputExpiry)
			if err != nil {
				s.log.Warn("presign output url failed", zap.String("job_id", jobID), zap.Error(err))
			} else {
				view.OutputURL = url
			}
		}
	}
	return view, nil
}

// Cancel attempts the guarded transition to CANCELLED. It is safe to
// call concurrently on the same job: at most one caller's CAS succeeds,
// and a mismatch (job already terminal) is not reported as an error —
// Cancel is idempotent from the caller's point of view.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	now := time.Now()
	retentionDeadline := now.Add(1 * time.Hour)
	err := s.statemachine.ToCancelled(ctx, jobID, now, retentionDeadline)
	if err == store.ErrCASMismatch {
		return nil
	}
	return err
}
