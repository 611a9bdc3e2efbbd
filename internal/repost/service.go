package repost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/posting"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const (
	defaultLogRetention = 90 * 24 * time.Hour
	defaultLockTTL      = 10 * time.Minute
	defaultGLBatchSize  = 50
)

// GLRepostRequest asks the general ledger to repost a batch of vouchers.
type GLRepostRequest struct {
	JobID    string              `json:"job_id"`
	Company  string              `json:"company"`
	PostedAt time.Time           `json:"posted_at"`
	Vouchers []ledger.VoucherRef `json:"vouchers"`
	Batch    int                 `json:"batch"`
}

// GLReposter reposts double-entry postings for stock vouchers.
type GLReposter interface {
	RepostVouchers(ctx context.Context, req GLRepostRequest) error
}

// Notifier relays job failures to operators.
type Notifier interface {
	NotifyFailure(ctx context.Context, job Job) error
}

// Lock is a held exclusive lock.
type Lock interface {
	// Refresh extends the lock to ttl from now.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker obtains exclusive locks shared by every worker.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Config groups the runner settings.
type Config struct {
	// Sync runs jobs as soon as they are scheduled and propagates their errors.
	Sync bool
	// ItemBased schedules one Item-and-Warehouse job per chain of a voucher.
	ItemBased    bool
	Window       Window
	Guard        GuardConfig
	LogRetention time.Duration
	LockTTL      time.Duration
	JobTimeout   time.Duration
	GLBatchSize  int
}

// Service schedules and runs repost jobs.
type Service struct {
	store       Store
	coordinator *Coordinator
	cfg         Config
	guard       guard
	validate    *validator.Validate
	logger      *slog.Logger
	metrics     *Metrics
	locker      Locker
	gl          GLReposter
	notifier    Notifier
	now         func() time.Time
}

// NewService builds Service.
func NewService(store Store, engine *posting.Engine, cfg Config, logger *slog.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LogRetention <= 0 {
		cfg.LogRetention = defaultLogRetention
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.GLBatchSize <= 0 {
		cfg.GLBatchSize = defaultGLBatchSize
	}
	return &Service{
		store:       store,
		coordinator: NewCoordinator(store, engine, logger),
		cfg:         cfg,
		guard:       guard{cfg: cfg.Guard},
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With(slog.String("component", "repost")),
		metrics:     metrics,
		now:         time.Now,
	}
}

// WithLocker serialises job runs across workers.
func (s *Service) WithLocker(locker Locker) *Service {
	s.locker = locker
	return s
}

// WithGLReposter hands affected vouchers to the general ledger after each job.
func (s *Service) WithGLReposter(gl GLReposter) *Service {
	s.gl = gl
	return s
}

// WithNotifier enables failure notifications.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithClock overrides the time source, primarily for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Schedule validates and queues a job. In sync mode the job runs before returning.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (Job, error) {
	job, err := s.newJob(req)
	if err != nil {
		return Job{}, err
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return s.insertJob(ctx, tx, &job)
	})
	if err != nil {
		return Job{}, err
	}
	s.queued(ctx, job)

	if !s.cfg.Sync {
		return job, nil
	}
	if err := s.Run(ctx, job.ID); err != nil {
		return job, err
	}
	return s.Get(ctx, job.ID)
}

func (s *Service) newJob(req ScheduleRequest) (Job, error) {
	if err := s.validate.Struct(req); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	now := s.clock()
	job := Job{
		ID:                   uuid.NewString(),
		BasedOn:              req.BasedOn,
		Voucher:              req.Voucher,
		ItemCode:             req.ItemCode,
		Warehouse:            req.Warehouse,
		PostedAt:             req.PostedAt.UTC(),
		Company:              req.Company,
		Status:               StatusQueued,
		AllowNegativeStock:   true,
		AllowZeroRate:        req.AllowZeroRate,
		ViaLandedCostVoucher: req.ViaLandedCostVoucher,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if job.BasedOn == "" {
		job.BasedOn = BasedOnTransaction
	}
	switch job.BasedOn {
	case BasedOnTransaction:
		if !job.Voucher.Type.Valid() || job.Voucher.No == "" {
			return Job{}, fmt.Errorf("%w: voucher required", ErrInvalidRequest)
		}
		job.ItemCode, job.Warehouse = "", ""
	case BasedOnItemWarehouse:
		if job.ItemCode == "" || job.Warehouse == "" {
			return Job{}, fmt.Errorf("%w: item code and warehouse required", ErrInvalidRequest)
		}
	}
	return job, nil
}

// insertJob applies the period and freeze guards and stores job within tx.
func (s *Service) insertJob(ctx context.Context, tx Tx, job *Job) error {
	warnings, err := s.guard.check(ctx, tx, *job)
	if err != nil {
		return err
	}
	job.Warnings = warnings
	return tx.InsertJob(ctx, *job)
}

func (s *Service) queued(ctx context.Context, job Job) {
	s.metrics.transition(StatusQueued)
	s.logger.InfoContext(ctx, "repost scheduled",
		slog.String("job_id", job.ID),
		slog.String("based_on", string(job.BasedOn)),
		slog.String("voucher_type", job.Voucher.Type.String()),
		slog.String("voucher_no", job.Voucher.No),
		slog.String("item_code", job.ItemCode),
		slog.String("warehouse", job.Warehouse),
	)
}

// ScheduleItemWise queues one Item-and-Warehouse job per chain the voucher touched,
// each starting at that chain's first entry. The jobs are queued together or not at all.
func (s *Service) ScheduleItemWise(ctx context.Context, ref ledger.VoucherRef, allowZeroRate bool) ([]Job, error) {
	var jobs []Job
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		jobs, err = s.scheduleItemWise(ctx, tx, ref, allowZeroRate)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		s.queued(ctx, job)
	}
	if !s.cfg.Sync {
		return jobs, nil
	}
	for i, job := range jobs {
		if err := s.Run(ctx, job.ID); err != nil {
			return jobs, err
		}
		if jobs[i], err = s.Get(ctx, job.ID); err != nil {
			return jobs, err
		}
	}
	return jobs, nil
}

func (s *Service) scheduleItemWise(ctx context.Context, tx Tx, ref ledger.VoucherRef, allowZeroRate bool) ([]Job, error) {
	pairs, err := tx.Ledger().VoucherPairs(ctx, ref)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(pairs))
	for _, e := range pairs {
		job, err := s.newJob(ScheduleRequest{
			BasedOn:       BasedOnItemWarehouse,
			Voucher:       ref,
			ItemCode:      e.ItemCode,
			Warehouse:     e.Warehouse,
			PostedAt:      e.PostedAt,
			Company:       e.Company,
			AllowZeroRate: allowZeroRate,
		})
		if err != nil {
			return nil, err
		}
		if err := s.insertJob(ctx, tx, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// WithVoucherTx runs fn in a transaction shared by the ledger and the job
// table. Jobs fn queues or skips through its posting.VoucherJobs commit with
// the movement.
func (s *Service) WithVoucherTx(ctx context.Context, fn func(context.Context, ledger.Tx, posting.VoucherJobs) error) error {
	var jobs *voucherJobs
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		jobs = &voucherJobs{svc: s, tx: tx}
		return fn(ctx, tx.Ledger(), jobs)
	})
	if err != nil {
		return err
	}
	for range jobs.skipped {
		s.metrics.transition(StatusSkipped)
	}
	for _, job := range jobs.queued {
		s.queued(ctx, job)
	}
	return nil
}

// RunScheduled runs the given jobs in sync mode and is a no-op otherwise.
func (s *Service) RunScheduled(ctx context.Context, ids []string) error {
	if !s.cfg.Sync {
		return nil
	}
	for _, id := range ids {
		if err := s.Run(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

type voucherJobs struct {
	svc     *Service
	tx      Tx
	queued  []Job
	skipped []Job
}

// Schedule queues the repost a recorded movement requires.
func (v *voucherJobs) Schedule(ctx context.Context, req posting.RepostRequest) ([]string, error) {
	var jobs []Job
	if v.svc.cfg.ItemBased {
		var err error
		jobs, err = v.svc.scheduleItemWise(ctx, v.tx, req.Voucher, req.AllowZeroRate)
		if err != nil {
			return nil, err
		}
	} else {
		job, err := v.svc.newJob(ScheduleRequest{
			BasedOn:       BasedOnTransaction,
			Voucher:       req.Voucher,
			PostedAt:      req.PostedAt,
			Company:       req.Company,
			AllowZeroRate: req.AllowZeroRate,
		})
		if err != nil {
			return nil, err
		}
		if err := v.svc.insertJob(ctx, v.tx, &job); err != nil {
			return nil, err
		}
		jobs = []Job{job}
	}
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	v.queued = append(v.queued, jobs...)
	return ids, nil
}

// BeforeCancel refuses cancelling a voucher whose own repost is running
// and skips its queued one.
func (v *voucherJobs) BeforeCancel(ctx context.Context, ref ledger.VoucherRef) error {
	jobs, err := v.tx.ListJobs(ctx, JobFilter{
		Voucher:  ref,
		BasedOn:  BasedOnTransaction,
		Statuses: []Status{StatusQueued, StatusInProgress},
	})
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Status == StatusInProgress {
			return ErrRepostInProgress
		}
	}
	for _, job := range jobs {
		job.Status = StatusSkipped
		job.Cancelled = true
		job.UpdatedAt = v.svc.clock()
		if err := v.tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		v.skipped = append(v.skipped, job)
	}
	return nil
}

var errNotRunnable = errors.New("repost: job not runnable")

func lockError(err error) error {
	if errors.Is(err, ErrLockNotObtained) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrLockNotObtained, err)
}

// Run executes one job. Jobs that are no longer active are left untouched.
// A recoverable error leaves the job In Progress for the next sweep; any
// other error marks it Failed and is returned.
func (s *Service) Run(ctx context.Context, id string) error {
	_, err := s.run(ctx, id)
	return err
}

func (s *Service) run(ctx context.Context, id string) (ran bool, err error) {
	ctx, span := tracer.Start(ctx, "repost.job")
	span.SetAttributes(attribute.String("job.id", id))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}
	ctx, release, err := s.hold(ctx, shared.RepostJobLockKey(id))
	if err != nil {
		return false, err
	}
	defer release()

	job, err := s.start(ctx, id)
	if errors.Is(err, errNotRunnable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.execute(ctx, &job); err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrLockLost) {
			err = cause
		}
		return true, s.fail(ctx, job, err)
	}

	job.Status = StatusCompleted
	job.ErrorLog = ""
	if err := s.save(ctx, job); err != nil {
		return true, err
	}
	s.metrics.transition(StatusCompleted)
	s.logger.InfoContext(ctx, "repost completed",
		slog.String("job_id", job.ID),
		slog.Int("pairs", job.TotalItems),
		slog.Int("gl_index", job.GLIndex),
	)
	return true, nil
}

func (s *Service) start(ctx context.Context, id string) (Job, error) {
	var job Job
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		job, err = tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if !job.Status.Active() {
			return errNotRunnable
		}
		if job.Status == StatusQueued {
			s.metrics.transition(StatusInProgress)
		}
		job.Status = StatusInProgress
		job.UpdatedAt = s.clock()
		return tx.UpdateJob(ctx, job)
	})
	return job, err
}

func (s *Service) save(ctx context.Context, job Job) error {
	job.UpdatedAt = s.clock()
	return s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpdateJob(ctx, job)
	})
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("repost: panic: %v", p.value)
}

func (s *Service) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	res, err := s.coordinator.Run(ctx, job, nil)
	if err != nil {
		return err
	}
	s.metrics.replayed(len(res.Keys), res.Processed)
	return s.repostGL(ctx, job, res)
}

// repostGL hands the general ledger every voucher posted on the replayed
// chains since the job date plus the vouchers the replay touched, in batches.
func (s *Service) repostGL(ctx context.Context, job *Job, res CoordinatorResult) error {
	if s.gl == nil {
		return nil
	}
	vouchers, err := s.glVouchers(ctx, *job, res)
	if err != nil {
		return err
	}
	for job.GLIndex < len(vouchers) {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		end := min(job.GLIndex+s.cfg.GLBatchSize, len(vouchers))
		req := GLRepostRequest{
			JobID:    job.ID,
			Company:  job.Company,
			PostedAt: job.PostedAt,
			Vouchers: vouchers[job.GLIndex:end],
			Batch:    job.GLIndex / s.cfg.GLBatchSize,
		}
		if err := s.gl.RepostVouchers(ctx, req); err != nil {
			return fmt.Errorf("repost: gl batch %d: %w", req.Batch, err)
		}
		job.GLIndex = end
		if err := s.save(ctx, *job); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) glVouchers(ctx context.Context, job Job, res CoordinatorResult) ([]ledger.VoucherRef, error) {
	items := make([]string, 0, len(res.Keys))
	warehouses := make([]string, 0, len(res.Keys))
	seenItem := make(map[string]bool)
	seenWarehouse := make(map[string]bool)
	for _, k := range res.Keys {
		if !seenItem[k.ItemCode] {
			seenItem[k.ItemCode] = true
			items = append(items, k.ItemCode)
		}
		if !seenWarehouse[k.Warehouse] {
			seenWarehouse[k.Warehouse] = true
			warehouses = append(warehouses, k.Warehouse)
		}
	}

	var future []ledger.VoucherRef
	if len(res.Keys) > 0 {
		err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			future, err = tx.Ledger().FutureVouchers(ctx, ledger.FutureVoucherQuery{
				From:       job.PostedAt,
				Items:      items,
				Warehouses: warehouses,
				Company:    job.Company,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[ledger.VoucherRef]bool)
	var out []ledger.VoucherRef
	add := func(refs ...ledger.VoucherRef) {
		for _, ref := range refs {
			if ref.IsZero() || seen[ref] {
				continue
			}
			seen[ref] = true
			out = append(out, ref)
		}
	}
	if job.BasedOn == BasedOnTransaction {
		add(job.Voucher)
	}
	add(future...)
	add(res.Affected...)
	return out, nil
}

func (s *Service) fail(ctx context.Context, job Job, cause error) error {
	attrs := []any{
		slog.String("job_id", job.ID),
		slog.String("voucher_type", job.Voucher.Type.String()),
		slog.String("voucher_no", job.Voucher.No),
		slog.String("item_code", job.ItemCode),
		slog.String("warehouse", job.Warehouse),
		slog.Int("index", job.CurrentIndex),
		slog.Any("error", cause),
	}
	if IsRecoverable(cause) {
		s.logger.WarnContext(ctx, "repost interrupted, will retry", attrs...)
		return cause
	}
	s.logger.ErrorContext(ctx, "repost failed", attrs...)

	job.Status = StatusFailed
	job.ErrorLog = errorLog(cause)
	if err := s.save(context.WithoutCancel(ctx), job); err != nil {
		return errors.Join(cause, err)
	}
	s.metrics.transition(StatusFailed)
	if s.notifier != nil {
		if err := s.notifier.NotifyFailure(context.WithoutCancel(ctx), job); err != nil {
			s.logger.WarnContext(ctx, "notify repost failure", slog.String("job_id", job.ID), slog.Any("error", err))
		}
	}
	return cause
}

func errorLog(err error) string {
	var p *panicError
	if errors.As(err, &p) {
		return p.Error() + "\n\n" + string(p.stack)
	}
	return err.Error()
}

// RunDue drains due jobs oldest posting first when the timeslot allows it.
// A failing job does not stop the sweep. After each Item-and-Warehouse job,
// queued jobs it supersedes are skipped. In sync mode the failures are returned.
func (s *Service) RunDue(ctx context.Context) (RunSummary, error) {
	now := s.clock()
	if !s.cfg.Window.Allows(now) {
		s.logger.InfoContext(ctx, "repost sweep outside timeslot")
		return RunSummary{Skipped: true}, nil
	}
	ctx, release, err := s.hold(ctx, shared.RepostSweepLockKey())
	if err != nil {
		return RunSummary{}, err
	}
	defer release()

	var due []Job
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		due, err = tx.DueJobs(ctx, now)
		return err
	})
	if err != nil {
		return RunSummary{}, err
	}

	var summary RunSummary
	var failures []error
	for _, job := range due {
		if ctx.Err() != nil {
			return summary, context.Cause(ctx)
		}
		ran, err := s.run(ctx, job.ID)
		switch {
		case err == nil && !ran:
			continue
		case err == nil:
			summary.Completed++
		case IsRecoverable(err):
			summary.Retried++
		default:
			summary.Failed++
			failures = append(failures, fmt.Errorf("job %s: %w", job.ID, err))
		}
		summary.Processed++

		n, err := s.dedupe(ctx, job)
		if err != nil {
			s.logger.WarnContext(ctx, "deduplicate reposts", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		summary.Deduped += n
	}
	s.logger.InfoContext(ctx, "repost sweep finished",
		slog.Int("processed", summary.Processed),
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
		slog.Int("retried", summary.Retried),
		slog.Int("deduplicated", summary.Deduped),
	)
	if s.cfg.Sync && len(failures) > 0 {
		return summary, errors.Join(failures...)
	}
	return summary, nil
}

func (s *Service) dedupe(ctx context.Context, job Job) (int, error) {
	if job.BasedOn != BasedOnItemWarehouse {
		return 0, nil
	}
	var n int
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.SkipSuperseded(ctx, job, s.clock())
		return err
	})
	for i := 0; i < n; i++ {
		s.metrics.transition(StatusSkipped)
	}
	return n, err
}

// Restart requeues a job and discards its progress so the next run walks from scratch.
func (s *Service) Restart(ctx context.Context, id string) (Job, error) {
	var job Job
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		job, err = tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Status == StatusInProgress || job.Cancelled {
			return ErrInvalidTransition
		}
		job.Status = StatusQueued
		job.ErrorLog = ""
		job.ResetProgress()
		job.UpdatedAt = s.clock()
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return Job{}, err
	}
	s.metrics.transition(StatusQueued)
	if !s.cfg.Sync {
		return job, nil
	}
	if err := s.Run(ctx, job.ID); err != nil {
		return job, err
	}
	return s.Get(ctx, job.ID)
}

// Cancel withdraws a job. Queued jobs become Skipped. Cancelling is refused
// while the job is running or while the cancellation of its voucher is pending.
func (s *Service) Cancel(ctx context.Context, id string) (Job, error) {
	var job Job
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		job, err = tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Cancelled {
			return nil
		}
		if job.Status.Active() && !job.Voucher.IsZero() {
			cancelled, err := voucherCancelled(ctx, tx.Ledger(), job.Voucher)
			if err != nil {
				return err
			}
			if cancelled {
				return ErrPendingProcessing
			}
		}
		if job.Status == StatusInProgress {
			return ErrInvalidTransition
		}
		if _, err := s.guard.check(ctx, tx, job); err != nil {
			return err
		}
		if job.Status == StatusQueued {
			job.Status = StatusSkipped
			s.metrics.transition(StatusSkipped)
		}
		job.Cancelled = true
		job.UpdatedAt = s.clock()
		return tx.UpdateJob(ctx, job)
	})
	return job, err
}

func voucherCancelled(ctx context.Context, tx ledger.Tx, ref ledger.VoucherRef) (bool, error) {
	pairs, err := tx.VoucherPairs(ctx, ref)
	if err != nil || len(pairs) == 0 {
		return false, err
	}
	live, err := tx.EntriesByVoucher(ctx, ref)
	if err != nil {
		return false, err
	}
	return len(live) == 0, nil
}

// ClearOldLogs deletes Completed and Skipped jobs untouched for the retention period.
func (s *Service) ClearOldLogs(ctx context.Context) (int64, error) {
	cutoff := s.clock().Add(-s.cfg.LogRetention)
	var n int64
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.DeleteFinishedBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "old repost logs cleared", slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	return n, nil
}

// Get returns a job.
func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		job, err = tx.GetJob(ctx, id)
		return err
	})
	return job, err
}

// List returns jobs matching filter.
func (s *Service) List(ctx context.Context, filter JobFilter) ([]Job, error) {
	var jobs []Job
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		jobs, err = tx.ListJobs(ctx, filter)
		return err
	})
	return jobs, err
}

var _ posting.Scheduler = (*Service)(nil)
