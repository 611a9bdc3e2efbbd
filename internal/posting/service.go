package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// ErrEmptyMovement is returned when a submission carries no entries.
var ErrEmptyMovement = errors.New("posting: movement has no entries")

// RepostRequest asks for the chains touched by a voucher to be reposted from
// its posting time.
type RepostRequest struct {
	Voucher       ledger.VoucherRef
	PostedAt      time.Time
	Company       string
	AllowZeroRate bool
	Keys          []ledger.Key
}

// VoucherJobs manages the repost jobs of a voucher inside the transaction
// that records its movement.
type VoucherJobs interface {
	// BeforeCancel refuses a cancellation while the voucher's own repost is
	// still running and skips it while it is only queued.
	BeforeCancel(ctx context.Context, ref ledger.VoucherRef) error
	Schedule(ctx context.Context, req RepostRequest) ([]string, error)
}

// Scheduler hands backdated or cancelled vouchers to the repost queue. The
// movement and its jobs commit or roll back together.
type Scheduler interface {
	WithVoucherTx(ctx context.Context, fn func(context.Context, ledger.Tx, VoucherJobs) error) error
	// RunScheduled runs freshly committed jobs when the scheduler works synchronously.
	RunScheduled(ctx context.Context, ids []string) error
}

// MovementRequest submits or cancels the stock entries of one voucher.
type MovementRequest struct {
	Voucher              ledger.VoucherRef
	Company              string
	Entries              []ledger.Entry `validate:"required_unless=Cancel true,dive"`
	Lines                []ledger.VoucherLine
	Cancel               bool
	AllowNegativeStock   bool
	AllowZeroRate        bool
	ViaLandedCostVoucher bool
}

// MovementResult describes what RecordMovement persisted.
type MovementResult struct {
	Voucher         ledger.VoucherRef `json:"voucher"`
	Entries         []ledger.Entry    `json:"entries"`
	Bins            []ledger.Bin      `json:"bins"`
	RepostScheduled bool              `json:"repost_scheduled"`
	JobIDs          []string          `json:"job_ids,omitempty"`
	// Committed reports that the movement was stored even if running its
	// repost afterwards failed.
	Committed bool `json:"-"`
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Engine Config
}

// Service records stock movements against the ledger.
type Service struct {
	store     ledger.Store
	engine    *Engine
	scheduler Scheduler
	validate  *validator.Validate
	logger    *slog.Logger
	metrics   *Metrics

	mu           sync.Mutex
	lastCreation time.Time
	now          func() time.Time
}

// NewService builds Service. A nil scheduler leaves reposting to the caller.
func NewService(store ledger.Store, engine *Engine, scheduler Scheduler, logger *slog.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		engine:    engine,
		scheduler: scheduler,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With(slog.String("component", "posting")),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Engine exposes the replay engine the service posts with.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Store exposes the ledger store.
func (s *Service) Store() ledger.Store {
	return s.store
}

// nextCreation returns a strictly increasing creation stamp.
func (s *Service) nextCreation() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UTC().Truncate(time.Microsecond)
	if !ts.After(s.lastCreation) {
		ts = s.lastCreation.Add(time.Microsecond)
	}
	s.lastCreation = ts
	return ts
}

// RecordMovement persists the entries of a voucher, refreshes the affected
// chains at the voucher's own posting time, shifts later balances and updates
// bins. Cancellation reverses the stored entries of the voucher. When later
// entries exist the repost job is queued in the same transaction, so a
// rejected job leaves nothing behind.
func (s *Service) RecordMovement(ctx context.Context, req MovementRequest) (MovementResult, error) {
	if !req.Voucher.Type.Valid() || req.Voucher.No == "" {
		return MovementResult{}, fmt.Errorf("%w: voucher required", ledger.ErrInvalidEntry)
	}
	if !req.Cancel && len(req.Entries) == 0 {
		return MovementResult{}, ErrEmptyMovement
	}
	for i := range req.Entries {
		e := &req.Entries[i]
		e.VoucherType, e.VoucherNo = req.Voucher.Type, req.Voucher.No
		if e.Company == "" {
			e.Company = req.Company
		}
	}
	if err := s.validate.Struct(req); err != nil {
		return MovementResult{}, fmt.Errorf("%w: %v", ledger.ErrInvalidEntry, err)
	}

	var result MovementResult
	run := func(ctx context.Context, tx ledger.Tx, jobs VoucherJobs) error {
		result = MovementResult{Voucher: req.Voucher}
		if req.Cancel && jobs != nil {
			if err := jobs.BeforeCancel(ctx, req.Voucher); err != nil {
				return err
			}
		}
		op := NewOperationContext()
		repost, err := s.post(ctx, tx, op, req, &result)
		if err != nil || jobs == nil || !repost.needed(req, op) {
			return err
		}
		ids, err := jobs.Schedule(ctx, repost.request)
		if err != nil {
			return fmt.Errorf("posting: schedule repost for %s: %w", req.Voucher, err)
		}
		result.RepostScheduled = true
		result.JobIDs = ids
		return nil
	}

	var err error
	if s.scheduler != nil {
		err = s.scheduler.WithVoucherTx(ctx, run)
	} else {
		err = s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			return run(ctx, tx, nil)
		})
	}
	if err != nil {
		var negErr *ledger.NegativeStockError
		if errors.As(err, &negErr) {
			s.metrics.negativeStock(len(negErr.Shortfalls))
		}
		return MovementResult{}, err
	}
	result.Committed = true
	s.metrics.recorded(req.Voucher.Type, len(result.Entries))
	s.logger.InfoContext(ctx, "movement recorded",
		slog.String("voucher_type", req.Voucher.Type.String()),
		slog.String("voucher_no", req.Voucher.No),
		slog.Bool("cancel", req.Cancel),
		slog.Int("entries", len(result.Entries)),
		slog.Bool("repost_scheduled", result.RepostScheduled),
	)

	if result.RepostScheduled {
		if err := s.scheduler.RunScheduled(ctx, result.JobIDs); err != nil {
			return result, fmt.Errorf("posting: run repost for %s: %w", req.Voucher, err)
		}
	}
	return result, nil
}

type pendingRepost struct {
	request     RepostRequest
	queueRepost bool
}

func (p pendingRepost) needed(req MovementRequest, op *OperationContext) bool {
	if len(p.request.Keys) == 0 {
		return false
	}
	return req.Cancel || op.AnyFuture(req.Voucher) || p.queueRepost
}

// post writes the voucher lines and entries of req and collects the bins
// of the touched chains into result.
func (s *Service) post(ctx context.Context, tx ledger.Tx, op *OperationContext, req MovementRequest, result *MovementResult) (pendingRepost, error) {
	for _, line := range req.Lines {
		line.VoucherType, line.VoucherNo = req.Voucher.Type, req.Voucher.No
		if err := tx.SaveVoucherLine(ctx, line); err != nil {
			return pendingRepost{}, err
		}
	}

	entries := req.Entries
	if req.Cancel {
		reversed, err := s.reverseEntries(ctx, tx, req.Voucher)
		if err != nil {
			return pendingRepost{}, err
		}
		entries = reversed
	}
	if len(entries) == 0 {
		return pendingRepost{}, nil
	}

	pending := pendingRepost{request: RepostRequest{
		Voucher:       req.Voucher,
		PostedAt:      entries[0].PostedAt,
		Company:       req.Company,
		AllowZeroRate: req.AllowZeroRate,
		Keys:          distinctKeys(entries),
	}}
	if _, err := op.LoadFuture(ctx, tx, req.Voucher, pending.request.PostedAt, pending.request.Keys); err != nil {
		return pendingRepost{}, err
	}

	for i := range entries {
		sle, ok, err := s.postEntry(ctx, tx, op, req, entries[i])
		if err != nil {
			return pendingRepost{}, err
		}
		if ok {
			result.Entries = append(result.Entries, sle)
		}
	}

	for _, key := range pending.request.Keys {
		bin, _, err := tx.GetBin(ctx, key)
		if err != nil {
			return pendingRepost{}, err
		}
		result.Bins = append(result.Bins, bin)
	}

	if !req.Cancel {
		var err error
		pending.queueRepost, err = repostRequiredForQueue(ctx, tx, req.Voucher)
		if err != nil {
			return pendingRepost{}, err
		}
	}
	return pending, nil
}

// postEntry inserts one entry, replays its timestamp, shifts later balances
// and refreshes the bin. Entries of non-stock items are skipped.
func (s *Service) postEntry(ctx context.Context, tx ledger.Tx, op *OperationContext, req MovementRequest, sle ledger.Entry) (ledger.Entry, bool, error) {
	item, err := tx.Item(ctx, sle.ItemCode)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	if !item.IsStockItem {
		s.logger.WarnContext(ctx, "skipping non-stock item",
			slog.String("item_code", sle.ItemCode),
			slog.String("voucher_no", sle.VoucherNo),
		)
		return ledger.Entry{}, false, nil
	}

	sle.ID = uuid.NewString()
	sle.Creation = s.nextCreation()
	if sle.VoucherType.IsReconciliation() && !sle.IsCancelled && sle.PreviousQtyAfterTransaction == nil {
		prev, ok, err := tx.PreviousEntry(ctx, ledger.PreviousQuery{
			Key:            sle.Key(),
			Before:         ledger.Point{PostedAt: sle.PostedAt},
			Inclusive:      true,
			ExcludeVoucher: sle.Ref(),
		})
		if err != nil {
			return ledger.Entry{}, false, err
		}
		var last float64
		if ok {
			last = prev.QtyAfterTransaction
		}
		sle.PreviousQtyAfterTransaction = &last
	}
	if err := tx.InsertEntry(ctx, sle); err != nil {
		return ledger.Entry{}, false, err
	}

	if sle.ActualQty != 0 || sle.VoucherType.IsReconciliation() {
		if !(req.Cancel && req.ViaLandedCostVoucher) {
			_, err := s.engine.UpdateEntriesAfter(ctx, tx, Args{
				Key:                  sle.Key(),
				Start:                sle.PostedAt,
				EntryID:              sle.ID,
				Voucher:              req.Voucher,
				AllowZeroRate:        req.AllowZeroRate,
				AllowNegativeStock:   req.AllowNegativeStock,
				ViaLandedCostVoucher: req.ViaLandedCostVoucher,
				Op:                   op,
			})
			if err != nil {
				return ledger.Entry{}, false, err
			}
		}
		if err := s.engine.ShiftFuture(ctx, tx, sle, req.AllowNegativeStock); err != nil {
			return ledger.Entry{}, false, err
		}
	}

	if op.FutureExists(req.Voucher, sle.Key()) {
		latest, ok, err := tx.LatestEntry(ctx, sle.Key())
		if err != nil {
			return ledger.Entry{}, false, err
		}
		if ok {
			bin, _, err := tx.GetBin(ctx, sle.Key())
			if err != nil {
				return ledger.Entry{}, false, err
			}
			bin.ActualQty = latest.QtyAfterTransaction
			bin.UpdatedAt = s.now().UTC()
			if err := tx.UpsertBin(ctx, bin); err != nil {
				return ledger.Entry{}, false, err
			}
		}
	}

	stored, err := tx.EntriesByVoucher(ctx, req.Voucher)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	for _, e := range stored {
		if e.ID == sle.ID {
			return e, true, nil
		}
	}
	return sle, true, nil
}

// reverseEntries flags the stored entries of ref as cancelled and returns the
// reversing entries to insert. Reversals are stored cancelled too so that no
// replay ever reads them.
func (s *Service) reverseEntries(ctx context.Context, tx ledger.Tx, ref ledger.VoucherRef) ([]ledger.Entry, error) {
	stored, err := tx.EntriesByVoucher(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := tx.CancelVoucherEntries(ctx, ref); err != nil {
		return nil, err
	}
	out := make([]ledger.Entry, 0, len(stored))
	for _, orig := range stored {
		rev := orig
		rev.ID = ""
		rev.IsCancelled = true
		rev.ActualQty = -orig.ActualQty
		rev.StockQueue = nil
		rev.StockValueDifference = 0
		rev.RecalculateRate = false
		if rev.ActualQty < 0 && rev.OutgoingRate == 0 && orig.ActualQty != 0 {
			rev.OutgoingRate = math.Abs(orig.StockValueDifference / orig.ActualQty)
		}
		if orig.VoucherType.IsReconciliation() {
			asserted := orig.QtyAfterTransaction
			var prior float64
			if orig.PreviousQtyAfterTransaction != nil {
				prior = *orig.PreviousQtyAfterTransaction
			}
			rev.QtyAfterTransaction = prior
			rev.PreviousQtyAfterTransaction = &asserted
		}
		out = append(out, rev)
	}
	return out, nil
}

// repostRequiredForQueue reports whether a consuming entry of ref left a
// negative lot in a FIFO or LIFO queue.
func repostRequiredForQueue(ctx context.Context, tx ledger.Tx, ref ledger.VoucherRef) (bool, error) {
	entries, err := tx.EntriesByVoucher(ctx, ref)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.ActualQty >= 0 {
			continue
		}
		for _, lot := range e.StockQueue {
			if lot.Qty < 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

func distinctKeys(entries []ledger.Entry) []ledger.Key {
	seen := make(map[ledger.Key]bool)
	var out []ledger.Key
	for _, e := range entries {
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		out = append(out, e.Key())
	}
	return out
}

// Bin returns the cached balance of a chain.
func (s *Service) Bin(ctx context.Context, key ledger.Key) (ledger.Bin, bool, error) {
	var (
		bin ledger.Bin
		ok  bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		bin, ok, err = tx.GetBin(ctx, key)
		return err
	})
	return bin, ok, err
}

// Entries lists ledger entries.
func (s *Service) Entries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.ListEntries(ctx, filter)
		return err
	})
	return out, err
}

// SaveItem upserts the valuation attributes of an item.
func (s *Service) SaveItem(ctx context.Context, item ledger.Item) error {
	if item.Code == "" {
		return fmt.Errorf("%w: item code required", ledger.ErrInvalidEntry)
	}
	if item.ValuationMethod == "" {
		item.ValuationMethod = valuation.MethodFIFO
	}
	return s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.SaveItem(ctx, item)
	})
}
