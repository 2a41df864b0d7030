package datasync

import (
	"context"
	"fmt"

	"github.com/jasrulete/AI-Scheduler/internal/common"
)

// Publisher hands a refetch job to the broker.
type Publisher interface {
	PublishRefetch(ctx context.Context, jobID string, c Collection) error
}

// QueueDispatcher records a job and publishes it for cmd/worker instead of
// fetching in-process. A collection that already has a queued job is not
// enqueued twice.
type QueueDispatcher struct {
	jobs      *JobRepo
	publisher Publisher
}

func NewQueueDispatcher(jobs *JobRepo, p Publisher) *QueueDispatcher {
	return &QueueDispatcher{jobs: jobs, publisher: p}
}

func (q *QueueDispatcher) Dispatch(ctx context.Context, c Collection) error {
	id, err := common.NewULID()
	if err != nil {
		return err
	}
	job, created, err := q.jobs.CreateJobOrGetQueued(ctx, &RefetchJob{ID: id, Collection: c})
	if err != nil {
		return fmt.Errorf("record refetch job: %w", err)
	}
	if !created {
		return nil
	}
	if err := q.publisher.PublishRefetch(ctx, job.ID, c); err != nil {
		_ = q.jobs.MarkJobFailed(ctx, job.ID, "publish failed: "+err.Error())
		return fmt.Errorf("publish refetch job: %w", err)
	}
	return nil
}
