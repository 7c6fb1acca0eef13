package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mickaelli/reelforge/internal/model"
	"go.uber.org/zap"
)

// ArtifactStore is the typed wrapper over BlobStore + MetadataStore named
// in spec.md §4.2 ("Artifact Store Adapter"): it namespaces artifacts
// under {job_id}/{stage}/{name} and records every write as an Artifact
// row in the same step.
type ArtifactStore struct {
	blobs    *BlobStore
	metadata *MetadataStore
	log      *zap.Logger
}

// NewArtifactStore builds an ArtifactStore over the given blob and
// metadata stores.
func NewArtifactStore(blobs *BlobStore, metadata *MetadataStore, log *zap.Logger) *ArtifactStore {
	return &ArtifactStore{blobs: blobs, metadata: metadata, log: log}
}

func contentTypeFor(kind string) string {
	switch kind {
	case model.ContentVideo:
		return "video/mp4"
	case model.ContentAudio:
		return "audio/aac"
	case model.ContentImage:
		return "image/png"
	case model.ContentJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// WriteFile uploads localPath as the artifact (jobID, stage, name),
// recording both the blob write and the metadata row. The Stage Runner
// calls this after a stage body produces an output file in the scratch
// directory.
func (s *ArtifactStore) WriteFile(ctx context.Context, jobID, stage, name, localPath, contentKind string) (*model.Artifact, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	key := model.Key(jobID, stage, name)
	size, err := s.blobs.Put(ctx, key, f, info.Size(), contentTypeFor(contentKind))
	if err != nil {
		return nil, err
	}

	a := &model.Artifact{
		ID:          uuid.NewString(),
		JobID:       jobID,
		Stage:       stage,
		Name:        name,
		BlobKey:     key,
		Size:        size,
		ContentKind: contentKind,
	}
	if err := s.metadata.CreateArtifact(ctx, a); err != nil {
		// Best-effort cleanup of the blob we just wrote so a failed
		// metadata write never leaves an orphan the reaper can't find.
		_ = s.blobs.Delete(ctx, key)
		return nil, fmt.Errorf("record artifact: %w", err)
	}
	return a, nil
}

// Download resolves (jobID, stage, name) to its blob and writes it to
// localPath, for a stage's input resolution (download-on-demand, per
// spec.md §4.4).
func (s *ArtifactStore) Download(ctx context.Context, jobID, stage, name, localPath string) (*model.Artifact, error) {
	a, err := s.metadata.GetArtifact(ctx, jobID, stage, name)
	if err != nil {
		return nil, err
	}
	r, err := s.blobs.Get(ctx, a.BlobKey)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return nil, fmt.Errorf("copy artifact body: %w", err)
	}
	return a, nil
}

// DeleteArtifact removes both the blob and the row for one artifact —
// the unit of work the reaper and cancellation cleanup repeat per
// artifact (spec.md §4.8).
func (s *ArtifactStore) DeleteArtifact(ctx context.Context, a model.Artifact) error {
	if err := s.blobs.Delete(ctx, a.BlobKey); err != nil {
		return err
	}
	return s.metadata.DeleteArtifactRow(ctx, a.ID)
}

// Metadata exposes the underlying MetadataStore for components (Job
// Service, reaper, scheduler) that need Job-row operations alongside
// artifact operations.
func (s *ArtifactStore) Metadata() *MetadataStore { return s.metadata }

// ListReapableJobs forwards to the metadata store, letting the Retention
// Reaper depend on ArtifactStore alone rather than both stores directly.
func (s *ArtifactStore) ListReapableJobs(ctx context.Context, now time.Time) ([]model.Job, error) {
	return s.metadata.ListReapableJobs(ctx, now)
}

// ListArtifacts forwards to the metadata store.
func (s *ArtifactStore) ListArtifacts(ctx context.Context, jobID string) ([]model.Artifact, error) {
	return s.metadata.ListArtifacts(ctx, jobID)
}

// DeleteJobRow forwards to the metadata store.
func (s *ArtifactStore) DeleteJobRow(ctx context.Context, jobID string) error {
	return s.metadata.DeleteJobRow(ctx, jobID)
}

// Blobs exposes the underlying BlobStore, e.g. for JobService.Get to
// presign the output artifact's URL.
func (s *ArtifactStore) Blobs() *BlobStore { return s.blobs }
