package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/repost"
)

func glTaskID(req repost.GLRepostRequest) string {
	return fmt.Sprintf("gl-repost:%s:%d", req.JobID, req.Batch)
}

// TaskEnqueuer submits tasks to the queue.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskGLReposter hands GL repost batches to the worker through asynq.
type TaskGLReposter struct {
	enqueuer TaskEnqueuer
}

// NewTaskGLReposter constructs a TaskGLReposter.
func NewTaskGLReposter(enqueuer TaskEnqueuer) *TaskGLReposter {
	return &TaskGLReposter{enqueuer: enqueuer}
}

// RepostVouchers enqueues the batch. A batch already queued under the same ID counts as enqueued.
func (r *TaskGLReposter) RepostVouchers(ctx context.Context, req repost.GLRepostRequest) error {
	if len(req.Vouchers) == 0 {
		return nil
	}
	task, err := NewGLRepostTask(req)
	if err != nil {
		return err
	}
	if _, err := r.enqueuer.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("jobs: enqueue gl repost: %w", err)
	}
	return nil
}

var _ repost.GLReposter = (*TaskGLReposter)(nil)

// GLRepostJob delivers queued GL repost batches to the downstream ledger.
type GLRepostJob struct {
	Downstream repost.GLReposter
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// Handle forwards the batch. Delivery errors are retried.
func (j *GLRepostJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Downstream == nil {
		return errors.New("gl repost: dependencies not configured")
	}
	var req repost.GLRepostRequest
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskGLRepost)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	if err := j.Downstream.RepostVouchers(ctx, req); err != nil {
		j.log().Error("deliver gl repost",
			slog.String("job_id", req.JobID),
			slog.Int("batch", req.Batch),
			slog.Any("error", err),
		)
		return err
	}
	j.metrics().AddOutcomes(TaskGLRepost, "vouchers", len(req.Vouchers))
	return nil
}

func (j *GLRepostJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GLRepostJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLRepost))
	}
	return slog.Default().With(slog.String("job", TaskGLRepost))
}
