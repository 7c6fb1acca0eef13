// Package store holds the GORM-backed metadata store and the MinIO-backed
// blob store, adapted from the teacher's models/db.go and service/oss.go.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mickaelli/reelforge/internal/model"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a row lookup misses.
var ErrNotFound = errors.New("store: not found")

// ErrCASMismatch is returned by CompareAndSwapStatus when no row matched
// the expected current status — i.e. another worker already won the
// transition, or the job reached a terminal state first.
var ErrCASMismatch = errors.New("store: compare-and-swap mismatch")

// MetadataStore is the transactional key/row store holding Job and
// Artifact records (spec.md §1's "metadata store" collaborator),
// implemented here with GORM + MySQL the way the teacher does in
// models/db.go.
type MetadataStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to MySQL via GORM and auto-migrates the jobs/artifacts
// tables, mirroring InitDB in the teacher's models/db.go (there via a raw
// SQL file; here via GORM AutoMigrate, since the schema is now expressed
// as Go structs rather than a checked-in .sql file).
func Open(dsn string, log *zap.Logger) (*MetadataStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.Job{}, &model.Artifact{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &MetadataStore{db: db, log: log}, nil
}

// CreateJobWithInputs persists a new Job row plus its already-stored
// input Artifact rows (linked by JobID) in a single transaction, rolling
// back entirely on failure — the transactional write JobService.Create
// needs per spec.md §4.1.
func (s *MetadataStore) CreateJobWithInputs(ctx context.Context, job *model.Job, inputs []model.Artifact) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		for i := range inputs {
			inputs[i].JobID = job.ID
			if err := tx.Create(&inputs[i]).Error; err != nil {
				return fmt.Errorf("create input artifact: %w", err)
			}
		}
		return nil
	})
}

// GetJob reads a single Job row.
func (s *MetadataStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var j model.Job
	if err := s.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

// CompareAndSwapStatus performs the atomic `UPDATE ... WHERE id=? AND
// status IN (...)` the state machine's CAS guard relies on (spec.md
// §4.10). extra carries any additional columns to set in the same write
// (progress, error, output_artifact_id, completed_at, ...).
func (s *MetadataStore) CompareAndSwapStatus(ctx context.Context, id string, fromAny []string, to string, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now()}
	for k, v := range extra {
		updates[k] = v
	}
	tx := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status IN ?", id, fromAny).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrCASMismatch
	}
	return nil
}

// UpdateProgress writes progress+step, rejecting any update whose
// progress would regress — the Progress Publisher's monotonicity
// invariant (spec.md §5), enforced here as a single guarded UPDATE so
// concurrent publishers can never race each other into a regression.
func (s *MetadataStore) UpdateProgress(ctx context.Context, jobID string, percent int, step string) error {
	tx := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND progress <= ?", jobID, percent).
		Updates(map[string]interface{}{
			"progress":     percent,
			"current_step": step,
			"updated_at":   time.Now(),
		})
	return tx.Error
}

// IncrementAttempt bumps attempt_count and last_pickup_at in one write.
func (s *MetadataStore) IncrementAttempt(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"attempt_count":  gorm.Expr("attempt_count + 1"),
			"last_pickup_at": time.Now(),
			"updated_at":     time.Now(),
		}).Error
}

// CreateArtifact upserts one Artifact row keyed on the unique
// (job_id, stage, name) index. A retried attempt (asynq redelivery after
// Timeout/TransientTool, or the Scheduler's re-enqueue after a crash)
// re-runs the whole DAG from scratch, so a stage whose output already
// landed on a prior attempt must overwrite that row rather than collide
// with the unique index and get misclassified as a fatal failure. The
// row's own ID is left untouched on conflict; only the fields a re-write
// can actually change are refreshed.
func (s *MetadataStore) CreateArtifact(ctx context.Context, a *model.Artifact) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "stage"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob_key", "size", "content_kind", "created_at"}),
	}).Create(a).Error
}

// GetArtifact resolves an Artifact by (jobID, stage, name).
func (s *MetadataStore) GetArtifact(ctx context.Context, jobID, stage, name string) (*model.Artifact, error) {
	var a model.Artifact
	err := s.db.WithContext(ctx).First(&a, "job_id = ? AND stage = ? AND name = ?", jobID, stage, name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &a, err
}

// GetArtifactByID resolves an Artifact by ID.
func (s *MetadataStore) GetArtifactByID(ctx context.Context, id string) (*model.Artifact, error) {
	var a model.Artifact
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &a, err
}

// ListArtifacts returns every Artifact belonging to a job, for the reaper
// and for stage input resolution.
func (s *MetadataStore) ListArtifacts(ctx context.Context, jobID string) ([]model.Artifact, error) {
	var out []model.Artifact
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&out).Error
	return out, err
}

// DeleteArtifactRow removes one Artifact row. Blob deletion happens
// separately in the reaper, blob-before-row per spec.md §4.8.
func (s *MetadataStore) DeleteArtifactRow(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&model.Artifact{}, "id = ?", id).Error
}

// DeleteJobRow removes the Job row. Only the reaper calls this, and only
// after every Artifact row for the job is gone.
func (s *MetadataStore) DeleteJobRow(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&model.Job{}, "id = ?", id).Error
}

// ListReapableJobs returns jobs whose retention_deadline has passed.
// retention_deadline is set at creation to created_at+abandonedHorizon
// and tightened to completed_at+terminalHorizon the moment a job reaches
// a terminal status (see jobservice and statemachine), so a single
// "deadline <= now" filter covers both the terminal and the
// abandoned-non-terminal cases from spec.md §4.8 without the reaper
// needing to know which kind of job it is looking at.
func (s *MetadataStore) ListReapableJobs(ctx context.Context, now time.Time) ([]model.Job, error) {
	var out []model.Job
	err := s.db.WithContext(ctx).
		Where("retention_deadline <= ?", now).
		Find(&out).Error
	return out, err
}

// ListAbandonedProcessing returns PROCESSING jobs whose last_pickup_at is
// older than threshold — candidates for Scheduler's re-enqueue sweep
// (spec.md §4.9).
func (s *MetadataStore) ListAbandonedProcessing(ctx context.Context, threshold time.Time) ([]model.Job, error) {
	var out []model.Job
	err := s.db.WithContext(ctx).
		Where("status = ? AND last_pickup_at <= ?", model.JobProcessing, threshold).
		Find(&out).Error
	return out, err
}
