package posting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

var tracer = otel.Tracer("stockledger/posting")

// Config holds the settings the engine applies to every replay.
type Config struct {
	FloatPrecision     int32
	CurrencyPrecision  int32
	AllowNegativeStock bool
}

// DependencySink receives chains that must be replayed because an entry on
// the current chain feeds their rate. It reports whether the sink gained work.
type DependencySink interface {
	AddDependent(dep ledger.Entry) bool
}

// Args selects what UpdateEntriesAfter replays.
type Args struct {
	Key   ledger.Key
	Start time.Time
	// EntryID restricts the replay to entries posted exactly at Start. It is
	// set when a voucher is recorded and only its own timestamp is refreshed.
	EntryID              string
	Voucher              ledger.VoucherRef
	AllowZeroRate        bool
	AllowNegativeStock   bool
	ViaLandedCostVoucher bool
	Dependencies         DependencySink
	Op                   *OperationContext
}

// Result summarises a replay.
type Result struct {
	Affected      []ledger.VoucherRef
	NewItemsFound bool
	Processed     int
}

// Engine replays stock ledger chains.
type Engine struct {
	cfg     Config
	sources RateSources
	logger  *slog.Logger
	clock   func() time.Time
}

// NewEngine constructs Engine.
func NewEngine(cfg Config, sources RateSources, logger *slog.Logger) *Engine {
	if sources == nil {
		sources = DefaultRateSources()
	}
	if cfg.FloatPrecision <= 0 {
		cfg.FloatPrecision = 3
	}
	if cfg.CurrencyPrecision <= 0 {
		cfg.CurrencyPrecision = 2
	}
	return &Engine{cfg: cfg, sources: sources, logger: logger, clock: time.Now}
}

// WithClock overrides the time source used for bin timestamps.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	if clock != nil {
		e.clock = clock
	}
	return e
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger.With(slog.String("component", "posting.engine"))
	}
	return slog.Default().With(slog.String("component", "posting.engine"))
}

// AllowsNegative reports whether negative balances are permitted for item.
func (e *Engine) AllowsNegative(item ledger.Item, override bool) bool {
	return override || e.cfg.AllowNegativeStock || item.AllowNegativeStock
}

type chainState struct {
	valuation.State
	prevValue float64
}

type walk struct {
	engine     *Engine
	tx         ledger.Tx
	args       Args
	item       ledger.Item
	allowNeg   bool
	states     map[string]*chainState
	affected   []ledger.VoucherRef
	seen       map[ledger.VoucherRef]bool
	exceptions []ledger.Shortfall
	newItems   bool
	processed  int
}

// UpdateEntriesAfter replays the chain of args.Key from args.Start forward,
// persisting the recomputed balance and valuation of every entry. Negative
// balances are collected across the whole window and returned as a single
// *ledger.NegativeStockError after all other writes; callers own the
// transaction and decide whether to keep them.
func (e *Engine) UpdateEntriesAfter(ctx context.Context, tx ledger.Tx, args Args) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "posting.update_entries_after", trace.WithAttributes(
		attribute.String("item_code", args.Key.ItemCode),
		attribute.String("warehouse", args.Key.Warehouse),
		attribute.Bool("single_voucher", args.EntryID != ""),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	item, err := tx.Item(ctx, args.Key.ItemCode)
	if err != nil {
		return Result{}, err
	}
	w := &walk{
		engine:   e,
		tx:       tx,
		args:     args,
		item:     item,
		allowNeg: e.AllowsNegative(item, args.AllowNegativeStock),
		states:   make(map[string]*chainState),
		seen:     make(map[ledger.VoucherRef]bool),
	}
	if err := w.seed(ctx, args.Key, args.Start); err != nil {
		return Result{}, err
	}

	if args.EntryID != "" {
		entries, err := tx.EntriesAt(ctx, args.Key, args.Start)
		if err != nil {
			return Result{}, err
		}
		for i := range entries {
			if _, err := w.process(ctx, &entries[i]); err != nil {
				return Result{}, err
			}
		}
		if !args.Op.FutureExists(args.Voucher, args.Key) {
			if err := w.updateBins(ctx); err != nil {
				return Result{}, err
			}
		}
	} else {
		entries, err := tx.EntriesFrom(ctx, args.Key, ledger.Point{PostedAt: args.Start})
		if err != nil {
			return Result{}, err
		}
		for i := range entries {
			sle := &entries[i]
			ok, err := w.process(ctx, sle)
			if err != nil {
				return Result{}, err
			}
			if ok {
				if err := w.updateBinData(ctx, *sle); err != nil {
					return Result{}, err
				}
			}
			if sle.DependantVoucherDetailNo != "" {
				if err := w.dependents(ctx, *sle); err != nil {
					return Result{}, err
				}
			}
		}
	}

	res = Result{Affected: w.affected, NewItemsFound: w.newItems, Processed: w.processed}
	e.log().DebugContext(ctx, "chain replayed",
		slog.String("item_code", args.Key.ItemCode),
		slog.String("warehouse", args.Key.Warehouse),
		slog.Time("from", args.Start),
		slog.Int("processed", w.processed),
		slog.Int("shortfalls", len(w.exceptions)),
	)
	if len(w.exceptions) > 0 {
		return res, w.negativeStockError()
	}
	return res, nil
}

func (w *walk) seed(ctx context.Context, key ledger.Key, start time.Time) error {
	prev, ok, err := w.tx.PreviousEntry(ctx, ledger.PreviousQuery{Key: key, Before: ledger.Point{PostedAt: start}})
	if err != nil {
		return err
	}
	st := &chainState{}
	if ok {
		st.Qty = prev.QtyAfterTransaction
		st.Rate = prev.ValuationRate
		st.Value = prev.StockValue
		st.Queue = prev.StockQueue.Clone()
		st.prevValue = prev.StockValue
	}
	if st.Queue == nil {
		st.Queue = valuation.Queue{}
	}
	w.states[key.Warehouse] = st
	return nil
}

func (w *walk) markAffected(ref ledger.VoucherRef) {
	if w.seen[ref] {
		return
	}
	w.seen[ref] = true
	w.affected = append(w.affected, ref)
}

// process replays one entry. It returns false when the entry was skipped
// because it would take the balance negative.
func (w *walk) process(ctx context.Context, sle *ledger.Entry) (bool, error) {
	st := w.states[sle.Warehouse]
	w.markAffected(sle.Ref())
	single := w.args.EntryID != ""
	reco := sle.VoucherType.IsReconciliation()
	if reco && sle.BatchNo == "" {
		sle.ActualQty = sle.QtyAfterTransaction - st.Qty
	}

	if (len(sle.SerialNos) > 0 && !w.args.ViaLandedCostVoucher) || !w.allowNeg {
		if !w.validateNegativeStock(st, *sle) {
			st.Qty += sle.ActualQty
			return false, nil
		}
	}

	rc := RateContext{Tx: w.tx, Method: w.item.ValuationMethod, Rate: st.Rate}
	source := w.engine.sources[sle.VoucherType]
	if !single && sle.RecalculateRate && source != nil {
		rate, ok, err := source.Rate(ctx, rc, *sle)
		if err != nil {
			return false, err
		}
		if ok {
			if sle.ActualQty >= 0 {
				sle.IncomingRate = rate
			} else {
				sle.OutgoingRate = rate
			}
		}
	}

	if reco && !single && sle.VoucherDetailNo != "" && sle.BatchNo != "" {
		if err := w.resetReconciliationQty(ctx, sle); err != nil {
			return false, err
		}
	}

	if pricer, ok := source.(outgoingRater); ok {
		rate, found, err := pricer.OutgoingRate(ctx, rc, *sle)
		if err != nil {
			return false, err
		}
		if found {
			sle.OutgoingRate = rate
		}
	}

	next, err := w.value(ctx, st, sle, reco)
	if err != nil {
		return false, err
	}
	st.State = next

	st.Value = valuation.Round(st.Value, w.engine.cfg.CurrencyPrecision)
	if st.Qty == 0 {
		st.Value = 0
	}
	diff := st.Value - st.prevValue
	st.prevValue = st.Value

	sle.QtyAfterTransaction = st.Qty
	sle.ValuationRate = st.Rate
	sle.StockValue = st.Value
	sle.StockQueue = st.Queue.Clone()
	sle.StockValueDifference = diff
	if err := w.tx.UpdateEntryValuation(ctx, *sle); err != nil {
		return false, err
	}
	w.processed++

	if !single && source != nil && (sle.VoucherDetailNo != "" || reco) {
		if err := source.WriteBack(ctx, rc, *sle); err != nil {
			return false, fmt.Errorf("posting: write back %s: %w", sle.Ref(), err)
		}
	}
	return true, nil
}

func (w *walk) value(ctx context.Context, st *chainState, sle *ledger.Entry, reco bool) (valuation.State, error) {
	m := valuation.Movement{Qty: sle.ActualQty, IncomingRate: sle.IncomingRate, OutgoingRate: sle.OutgoingRate}
	method := w.item.ValuationMethod

	if len(sle.SerialNos) > 0 {
		change, err := w.serialValueChange(ctx, st, *sle)
		if err != nil {
			return valuation.State{}, err
		}
		fallback, err := w.lineFallback(ctx, *sle, true)
		if err != nil {
			return valuation.State{}, err
		}
		next, err := valuation.ApplySerialized(st.State, sle.ActualQty, change, fallback)
		if err != nil {
			return valuation.State{}, err
		}
		if reco && sle.BatchNo == "" {
			next.Qty = sle.QtyAfterTransaction
			next.Value = next.Qty * next.Rate
		}
		return next, nil
	}

	if sle.BatchNo != "" {
		batch, ok, err := w.tx.Batch(ctx, sle.BatchNo)
		if err != nil {
			return valuation.State{}, err
		}
		if ok && batch.UseBatchwiseValuation {
			batchRate := func() (float64, bool, error) {
				qty, value, err := w.tx.BatchTotals(ctx, sle.Key(), sle.BatchNo, sle.Point(), ledger.VoucherRef{})
				if err != nil || qty == 0 {
					return 0, false, err
				}
				return value / qty, true, nil
			}
			return valuation.ApplyBatch(st.State, m, batchRate, w.fallback(ctx, *sle))
		}
	}

	if reco && sle.BatchNo == "" {
		return valuation.ApplyReconciliation(method, st.State, sle.QtyAfterTransaction, sle.ValuationRate), nil
	}

	if method == valuation.MethodMovingAverage {
		fallback, err := w.lineFallback(ctx, *sle, true)
		if err != nil {
			return valuation.State{}, err
		}
		return valuation.ApplyMovingAverage(st.State, m, fallback)
	}
	fallback, err := w.lineFallback(ctx, *sle, false)
	if err != nil {
		return valuation.State{}, err
	}
	return valuation.ApplyQueue(method, st.State, m, fallback)
}

func (w *walk) fallback(ctx context.Context, sle ledger.Entry) valuation.RateFunc {
	return func() (float64, error) {
		return FallbackRate(ctx, w.tx, sle, w.args.AllowZeroRate)
	}
}

// lineFallback returns the fallback rate function for an entry, or nil when
// its voucher line allows zero valuation. When requireDetail is set entries
// without a voucher line get no fallback either.
func (w *walk) lineFallback(ctx context.Context, sle ledger.Entry, requireDetail bool) (valuation.RateFunc, error) {
	if requireDetail && sle.VoucherDetailNo == "" {
		return nil, nil
	}
	allowZero, err := w.allowsZeroRate(ctx, sle)
	if err != nil {
		return nil, err
	}
	if allowZero {
		return nil, nil
	}
	return w.fallback(ctx, sle), nil
}

func (w *walk) allowsZeroRate(ctx context.Context, sle ledger.Entry) (bool, error) {
	if sle.AllowZeroValuationRate {
		return true, nil
	}
	switch sle.VoucherType {
	case ledger.VoucherStockEntry, ledger.VoucherPurchaseInvoice, ledger.VoucherSalesInvoice,
		ledger.VoucherDeliveryNote, ledger.VoucherPurchaseReceipt:
	default:
		return false, nil
	}
	if sle.VoucherDetailNo == "" {
		return false, nil
	}
	line, ok, err := w.tx.VoucherLine(ctx, sle.VoucherType, sle.VoucherDetailNo)
	if err != nil || !ok {
		return false, err
	}
	return line.AllowZeroValuationRate, nil
}

func (w *walk) serialValueChange(ctx context.Context, st *chainState, sle ledger.Entry) (float64, error) {
	if sle.ActualQty > 0 {
		rate := sle.IncomingRate
		if rate < 0 {
			rate = st.Rate
		}
		return sle.ActualQty * rate, nil
	}
	if sle.IsCancelled {
		return sle.ActualQty * sle.OutgoingRate, nil
	}
	serials, err := w.tx.SerialNos(ctx, sle.SerialNos)
	if err != nil {
		return 0, err
	}
	var value float64
	for _, sn := range serials {
		if sn.Company == sle.Company {
			value += sn.PurchaseRate
			continue
		}
		rate, _, err := w.tx.LastSerialIncomingRate(ctx, sle.Company, sn.No)
		if err != nil {
			return 0, err
		}
		value += rate
	}
	return -value, nil
}

// resetReconciliationQty refreshes the balance a batch reconciliation replaces
// and reverses exactly that balance.
func (w *walk) resetReconciliationQty(ctx context.Context, sle *ledger.Entry) error {
	current, _, err := w.tx.BatchTotals(ctx, sle.Key(), sle.BatchNo, ledger.Point{PostedAt: sle.PostedAt, Creation: sle.Creation}, sle.Ref())
	if err != nil {
		return err
	}
	line, ok, err := w.tx.VoucherLine(ctx, sle.VoucherType, sle.VoucherDetailNo)
	if err != nil {
		return err
	}
	if ok && valuation.Round(line.CurrentQty, w.engine.cfg.FloatPrecision) != valuation.Round(current, w.engine.cfg.FloatPrecision) {
		line.CurrentQty = current
		if err := w.tx.SaveVoucherLine(ctx, line); err != nil {
			return err
		}
	}
	if sle.ActualQty < 0 {
		sle.ActualQty = -current
	}
	return nil
}

func (w *walk) validateNegativeStock(st *chainState, sle ledger.Entry) bool {
	diff := valuation.Round(st.Qty+sle.ActualQty, w.engine.cfg.FloatPrecision)
	if !valuation.IsNegative(diff, w.engine.cfg.FloatPrecision) {
		return true
	}
	w.exceptions = append(w.exceptions, ledger.Shortfall{
		ItemCode:   sle.ItemCode,
		Warehouse:  sle.Warehouse,
		Deficiency: diff,
		PostedAt:   sle.PostedAt,
		Voucher:    sle.Ref(),
	})
	return false
}

// negativeStockError reports, per warehouse, the deepest shortfall against the
// first offending voucher.
func (w *walk) negativeStockError() error {
	var shortfalls []ledger.Shortfall
	index := make(map[string]int)
	for _, exc := range w.exceptions {
		i, ok := index[exc.Warehouse]
		if !ok {
			index[exc.Warehouse] = len(shortfalls)
			shortfalls = append(shortfalls, exc)
			continue
		}
		if exc.Deficiency < shortfalls[i].Deficiency {
			shortfalls[i].Deficiency = exc.Deficiency
		}
	}
	for i := range shortfalls {
		shortfalls[i].Deficiency = math.Abs(shortfalls[i].Deficiency)
		shortfalls[i].Current = !w.args.Voucher.IsZero() && shortfalls[i].Voucher == w.args.Voucher
	}
	return &ledger.NegativeStockError{Shortfalls: shortfalls}
}

func (w *walk) dependents(ctx context.Context, sle ledger.Entry) error {
	dep, ok, err := w.tx.EntryByDetailNo(ctx, sle.DependantVoucherDetailNo, sle.ID)
	if err != nil || !ok {
		return err
	}
	if dep.Key() == w.args.Key || w.args.Dependencies == nil {
		return nil
	}
	if w.args.Dependencies.AddDependent(dep) {
		w.newItems = true
	}
	return nil
}

func (w *walk) updateBinData(ctx context.Context, sle ledger.Entry) error {
	bin, _, err := w.tx.GetBin(ctx, sle.Key())
	if err != nil {
		return err
	}
	bin.ActualQty = sle.QtyAfterTransaction
	bin.StockValue = sle.StockValue
	bin.ValuationRate = sle.ValuationRate
	bin.UpdatedAt = w.engine.clock().UTC()
	return w.tx.UpsertBin(ctx, bin)
}

func (w *walk) updateBins(ctx context.Context) error {
	for warehouse, st := range w.states {
		key := ledger.Key{ItemCode: w.args.Key.ItemCode, Warehouse: warehouse}
		bin, _, err := w.tx.GetBin(ctx, key)
		if err != nil {
			return err
		}
		bin.ActualQty = st.Qty
		bin.StockValue = st.Value
		bin.ValuationRate = st.Rate
		bin.UpdatedAt = w.engine.clock().UTC()
		if err := w.tx.UpsertBin(ctx, bin); err != nil {
			return err
		}
	}
	return nil
}
