package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/repost"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueRepost runs repost sweeps and single jobs.
	QueueRepost = "repost"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskRepostDue drains due repost jobs.
	TaskRepostDue = "stock:repost_due"
	// TaskRepostJob runs a single repost job.
	TaskRepostJob = "stock:repost_job"
	// TaskRepostCleanup deletes old finished repost jobs.
	TaskRepostCleanup = "stock:repost_cleanup"
	// TaskGLRepost hands a voucher batch to the general ledger.
	TaskGLRepost = "gl:repost_vouchers"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RepostDuePayload carries scheduling metadata.
type RepostDuePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// RepostJobPayload selects the job to run.
type RepostJobPayload struct {
	JobID string `json:"job_id"`
}

// NewRepostDueTask constructs the sweep task.
func NewRepostDueTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(RepostDuePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRepostDue, body, asynq.Queue(QueueRepost)), nil
}

// NewRepostJobTask constructs a task running one job.
func NewRepostJobTask(jobID string) (*asynq.Task, error) {
	body, err := json.Marshal(RepostJobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRepostJob, body, asynq.Queue(QueueRepost)), nil
}

// NewRepostCleanupTask constructs the log cleanup task.
func NewRepostCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskRepostCleanup, nil, asynq.Queue(QueueDefault))
}

// NewGLRepostTask constructs a GL repost task. The task ID is derived from the
// job and batch so re-enqueueing a batch that is still pending is a no-op.
func NewGLRepostTask(req repost.GLRepostRequest) (*asynq.Task, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLRepost, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(glTaskID(req)),
		asynq.MaxRetry(10),
	), nil
}
