package datasync

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// RefetchJob tracks one queued refetch from enqueue to completion.
type RefetchJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	Collection Collection `gorm:"type:varchar(32);index:idx_refetch_collection_status,priority:1;not null"`
	Status     JobStatus  `gorm:"type:varchar(16);index:idx_refetch_collection_status,priority:2;not null"`

	// Filled when succeeded
	Bytes *int

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (RefetchJob) TableName() string { return "refetch_jobs" }

type JobRepo struct {
	db *gorm.DB
}

func NewJobRepo(db *gorm.DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Migrate() error {
	return r.db.AutoMigrate(&RefetchJob{})
}

func (r *JobRepo) CreateJob(ctx context.Context, job *RefetchJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepo) GetJobByID(ctx context.Context, id string) (*RefetchJob, error) {
	var j RefetchJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJobOrGetQueued creates a job unless one for the same collection is
// still waiting in the queue, in which case that one is returned instead.
func (r *JobRepo) CreateJobOrGetQueued(ctx context.Context, job *RefetchJob) (*RefetchJob, bool, error) {
	var existing RefetchJob
	err := r.db.WithContext(ctx).
		Where("collection = ? AND status = ?", job.Collection, JobQueued).
		Order("created_at ASC").
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	job.Status = JobQueued
	if err := r.CreateJob(ctx, job); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (r *JobRepo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&RefetchJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *JobRepo) MarkJobSucceeded(ctx context.Context, id string, bytes int) error {
	return r.db.WithContext(ctx).Model(&RefetchJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"bytes":  bytes,
			"error":  nil,
		}).Error
}

func (r *JobRepo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&RefetchJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
			"bytes":  nil,
		}).Error
}
