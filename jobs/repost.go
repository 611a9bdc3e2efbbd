package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/repost"
)

// RepostRunner is the part of repost.Service the worker drives.
type RepostRunner interface {
	RunDue(ctx context.Context) (repost.RunSummary, error)
	Run(ctx context.Context, id string) error
	ClearOldLogs(ctx context.Context) (int64, error)
}

// KeyCleaner expires replay-protection keys past their retention.
type KeyCleaner interface {
	Expire(ctx context.Context) (int64, error)
}

// RepostJob handles the repost tasks.
type RepostJob struct {
	Service RepostRunner
	Keys    KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRepostJob constructs the repost task handlers.
func NewRepostJob(service RepostRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RepostJob {
	return &RepostJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// HandleDue drains due jobs. A sweep refused because another worker holds the
// sweep lock is dropped; the next cron tick picks the work up.
func (j *RepostJob) HandleDue(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("repost due: dependencies not configured")
	}
	var payload RepostDuePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics().Track(TaskRepostDue)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	summary, err := j.Service.RunDue(ctx)
	if errors.Is(err, repost.ErrLockNotObtained) {
		j.log().Info("repost sweep already running elsewhere")
		return nil
	}
	j.metrics().AddOutcomes(TaskRepostDue, "completed", summary.Completed)
	j.metrics().AddOutcomes(TaskRepostDue, "failed", summary.Failed)
	j.metrics().AddOutcomes(TaskRepostDue, "retried", summary.Retried)
	j.metrics().AddOutcomes(TaskRepostDue, "deduplicated", summary.Deduped)
	if err != nil {
		j.log().Error("repost sweep", slog.Any("error", err))
		return err
	}
	if summary.Skipped {
		j.log().Info("repost sweep skipped outside timeslot")
		return nil
	}
	j.log().Info("repost sweep finished",
		slog.Int("processed", summary.Processed),
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return nil
}

// HandleJob runs one job. Recoverable errors are retried by asynq; a job the
// service already marked Failed is not.
func (j *RepostJob) HandleJob(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("repost job: dependencies not configured")
	}
	var payload RepostJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.JobID == "" {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskRepostJob)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	err := j.Service.Run(ctx, payload.JobID)
	switch {
	case err == nil:
		return nil
	case repost.IsRecoverable(err):
		j.log().Warn("repost job interrupted", slog.String("job_id", payload.JobID), slog.Any("error", err))
		return err
	case errors.Is(err, repost.ErrJobNotFound):
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	default:
		j.log().Error("repost job failed", slog.String("job_id", payload.JobID), slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
}

// HandleCleanup deletes old finished jobs and expired idempotency keys.
func (j *RepostJob) HandleCleanup(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("repost cleanup: dependencies not configured")
	}
	tracker := j.metrics().Track(TaskRepostCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	n, err := j.Service.ClearOldLogs(ctx)
	if err != nil {
		j.log().Error("clear old repost logs", slog.Any("error", err))
		return err
	}
	j.metrics().AddOutcomes(TaskRepostCleanup, "deleted", int(n))
	if j.Keys != nil {
		expired, err := j.Keys.Expire(ctx)
		if err != nil {
			j.log().Error("expire idempotency keys", slog.Any("error", err))
			return err
		}
		j.metrics().AddOutcomes(TaskRepostCleanup, "keys_expired", int(expired))
	}
	return nil
}

// Handlers lists the task handlers of the repost job.
func (j *RepostJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskRepostDue, Handler: j.HandleDue},
		{Type: TaskRepostJob, Handler: j.HandleJob},
		{Type: TaskRepostCleanup, Handler: j.HandleCleanup},
	}
}

// Cron returns the hourly sweep and the daily cleanup registrations.
func (j *RepostJob) Cron() ([]CronRegistration, error) {
	due, err := NewRepostDueTask(time.Time{})
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: "@hourly", Task: due, Options: []asynq.Option{asynq.Unique(55 * time.Minute)}},
		{Spec: "0 2 * * *", Task: NewRepostCleanupTask()},
	}, nil
}

func (j *RepostJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RepostJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", "stock:repost"))
	}
	return slog.Default().With(slog.String("job", "stock:repost"))
}

func (j *RepostJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *RepostJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
