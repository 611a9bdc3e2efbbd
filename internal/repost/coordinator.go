package repost

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/posting"
)

var tracer = otel.Tracer("stockledger/repost")

// Progress is reported after every checkpoint.
type Progress func(job Job)

// CoordinatorResult summarises a coordinator run.
type CoordinatorResult struct {
	Keys      []ledger.Key
	Affected  []ledger.VoucherRef
	Processed int
}

// Coordinator replays every chain a job reaches, following dependents, and
// checkpoints the worklist after each pair.
type Coordinator struct {
	store  Store
	engine *posting.Engine
	logger *slog.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(store Store, engine *posting.Engine, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, engine: engine, logger: logger.With(slog.String("component", "repost.coordinator"))}
}

func (c *Coordinator) seed(ctx context.Context, job Job) (*WorkQueue, error) {
	if job.Checkpoint != nil {
		return RestoreWorkQueue(job.Checkpoint)
	}
	if job.BasedOn == BasedOnItemWarehouse {
		return NewWorkQueue([]WorkItem{{Key: job.Key(), Start: job.PostedAt, Voucher: job.Voucher}}), nil
	}
	var seed []WorkItem
	err := c.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		pairs, err := tx.Ledger().VoucherPairs(ctx, job.Voucher)
		if err != nil {
			return err
		}
		for _, e := range pairs {
			seed = append(seed, WorkItem{Key: e.Key(), Start: e.PostedAt, Voucher: job.Voucher})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repost: load pairs of %s: %w", job.Voucher, err)
	}
	return NewWorkQueue(seed), nil
}

// Run replays the job's chains from its checkpoint, or from scratch when it has none.
// job is updated with the last committed checkpoint.
func (c *Coordinator) Run(ctx context.Context, job *Job, progress Progress) (CoordinatorResult, error) {
	queue, err := c.seed(ctx, *job)
	if err != nil {
		return CoordinatorResult{}, err
	}
	op := posting.NewOperationContext()
	processed := 0

	for {
		item, ok := queue.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return CoordinatorResult{}, err
		}
		n, err := c.replay(ctx, job, queue, op, item)
		if err != nil {
			return CoordinatorResult{}, err
		}
		processed += n
		if progress != nil {
			progress(*job)
		}
	}

	keys := make([]ledger.Key, 0, queue.Len())
	seen := make(map[ledger.Key]struct{}, queue.Len())
	for _, item := range queue.Items() {
		if _, ok := seen[item.Key]; ok {
			continue
		}
		seen[item.Key] = struct{}{}
		keys = append(keys, item.Key)
	}
	return CoordinatorResult{Keys: keys, Affected: queue.Affected(), Processed: processed}, nil
}

func (c *Coordinator) replay(ctx context.Context, job *Job, queue *WorkQueue, op *posting.OperationContext, item WorkItem) (processed int, err error) {
	ctx, span := tracer.Start(ctx, "repost.pair")
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("item_code", item.Key.ItemCode),
		attribute.String("warehouse", item.Key.Warehouse),
		attribute.Int("index", queue.Index()),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	next := *job
	err = c.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		res, err := c.engine.UpdateEntriesAfter(ctx, tx.Ledger(), posting.Args{
			Key:                  item.Key,
			Start:                item.Start,
			Voucher:              item.Voucher,
			AllowZeroRate:        job.AllowZeroRate,
			AllowNegativeStock:   job.AllowNegativeStock,
			ViaLandedCostVoucher: job.ViaLandedCostVoucher,
			Dependencies:         queue,
			Op:                   op,
		})
		if err != nil {
			return err
		}
		processed = res.Processed
		queue.Done(res.Affected)
		next.Checkpoint = queue.Checkpoint()
		next.CurrentIndex = queue.Index()
		next.TotalItems = queue.Len()
		return tx.UpdateJob(ctx, next)
	})
	if err != nil {
		return 0, fmt.Errorf("repost: replay %s: %w", item.Key, err)
	}
	*job = next
	c.logger.DebugContext(ctx, "pair reposted",
		slog.String("job_id", job.ID),
		slog.String("item_code", item.Key.ItemCode),
		slog.String("warehouse", item.Key.Warehouse),
		slog.Int("index", job.CurrentIndex),
		slog.Int("total", job.TotalItems),
		slog.Int("entries", processed),
	)
	return processed, nil
}
