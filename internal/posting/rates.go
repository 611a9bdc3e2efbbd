package posting

import (
	"context"
	"math"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// RateContext is what a RateSource may consult while an entry is replayed.
type RateContext struct {
	Tx     ledger.Tx
	Method valuation.Method
	// Rate is the running valuation rate of the chain just before the entry.
	Rate float64
}

// RateSource derives the rate of an entry from its originating voucher line and
// records the realized valuation back onto that line.
type RateSource interface {
	// Rate returns the current line rate; ok is false when the stored rate stands.
	Rate(ctx context.Context, rc RateContext, e ledger.Entry) (rate float64, ok bool, err error)
	WriteBack(ctx context.Context, rc RateContext, e ledger.Entry) error
}

// outgoingRater is implemented by sources that price their outgoing rows on
// every replay, whether or not the entry asked for recalculation.
type outgoingRater interface {
	OutgoingRate(ctx context.Context, rc RateContext, e ledger.Entry) (rate float64, ok bool, err error)
}

// RateSources maps each voucher kind to its RateSource.
type RateSources map[ledger.VoucherType]RateSource

// DefaultRateSources returns the built-in sources for every supported voucher type.
func DefaultRateSources() RateSources {
	purchase := purchaseSource{}
	sales := salesSource{}
	return RateSources{
		ledger.VoucherPurchaseReceipt:       purchase,
		ledger.VoucherPurchaseInvoice:       purchase,
		ledger.VoucherDeliveryNote:          sales,
		ledger.VoucherSalesInvoice:          sales,
		ledger.VoucherStockEntry:            stockEntrySource{},
		ledger.VoucherSubcontractingReceipt: subcontractingSource{},
		ledger.VoucherStockReconciliation:   reconciliationSource{},
	}
}

// realizedRate is the per-unit value an entry actually moved at.
func realizedRate(e ledger.Entry) float64 {
	if e.ActualQty == 0 {
		return 0
	}
	return math.Abs(e.StockValueDifference) / math.Abs(e.ActualQty)
}

func lineOf(ctx context.Context, tx ledger.Tx, e ledger.Entry) (ledger.VoucherLine, bool, error) {
	if e.VoucherDetailNo == "" {
		return ledger.VoucherLine{}, false, nil
	}
	line, ok, err := tx.VoucherLine(ctx, e.VoucherType, e.VoucherDetailNo)
	if err != nil || !ok {
		return ledger.VoucherLine{}, false, err
	}
	// Packed and supplied sub-items share the parent line; their rate is not on it.
	if line.ItemCode != e.ItemCode {
		return ledger.VoucherLine{}, false, nil
	}
	return line, true, nil
}

// returnRate values a return at the rate of the movement it reverses. Moving
// average items return at the running rate instead.
func returnRate(ctx context.Context, rc RateContext, line ledger.VoucherLine) (float64, bool, error) {
	if rc.Method == valuation.MethodMovingAverage {
		return rc.Rate, true, nil
	}
	if line.ReturnAgainstDetailNo == "" {
		return 0, false, nil
	}
	orig, ok, err := rc.Tx.EntryByDetailNo(ctx, line.ReturnAgainstDetailNo, "")
	if err != nil || !ok {
		return 0, false, err
	}
	if orig.ActualQty < 0 {
		return realizedRate(orig), true, nil
	}
	return orig.IncomingRate, true, nil
}

// internalTransferRate prices an inter-company receipt at the incoming rate of
// the sending delivery line.
func internalTransferRate(ctx context.Context, tx ledger.Tx, vt ledger.VoucherType, line ledger.VoucherLine) (float64, bool, error) {
	if !line.IsInternalSupplier || line.InternalTransferDetailNo == "" {
		return 0, false, nil
	}
	sender := ledger.VoucherDeliveryNote
	if vt == ledger.VoucherPurchaseInvoice {
		sender = ledger.VoucherSalesInvoice
	}
	ref, ok, err := tx.VoucherLine(ctx, sender, line.InternalTransferDetailNo)
	if err != nil || !ok {
		return 0, false, err
	}
	return ref.IncomingRate, true, nil
}

type purchaseSource struct{}

func (purchaseSource) Rate(ctx context.Context, rc RateContext, e ledger.Entry) (float64, bool, error) {
	line, ok, err := lineOf(ctx, rc.Tx, e)
	if err != nil || !ok {
		return 0, false, err
	}
	if line.IsReturn {
		return returnRate(ctx, rc, line)
	}
	if rate, ok, err := internalTransferRate(ctx, rc.Tx, e.VoucherType, line); err != nil || ok {
		return rate, ok, err
	}
	return line.ValuationRate, true, nil
}

func (purchaseSource) OutgoingRate(ctx context.Context, rc RateContext, e ledger.Entry) (float64, bool, error) {
	if e.ActualQty >= 0 {
		return 0, false, nil
	}
	line, ok, err := lineOf(ctx, rc.Tx, e)
	if err != nil || !ok {
		return 0, false, err
	}
	return internalTransferRate(ctx, rc.Tx, e.VoucherType, line)
}

func (purchaseSource) WriteBack(ctx context.Context, rc RateContext, e ledger.Entry) error {
	if e.ActualQty >= 0 {
		return nil
	}
	line, ok, err := lineOf(ctx, rc.Tx, e)
	if err != nil || !ok || !line.IsInternalSupplier {
		return err
	}
	line.ValuationRate = e.OutgoingRate
	return rc.Tx.SaveVoucherLine(ctx, line)
}

type salesSource struct{}

func (salesSource) Rate(ctx context.Context, rc RateContext, e ledger.Entry) (float64, bool, error) {
	line, ok, err := lineOf(ctx, rc.Tx, e)
	if err != nil || !ok {
		return 0, false, err
	}
	if line.IsReturn {
		return returnRate(ctx, rc, line)
	}
	return line.IncomingRate, true, nil
}

func (salesSource) WriteBack(ctx context.Context, rc RateContext, e ledger.Entry) error {
	line, ok, err := lineOf(ctx, rc.Tx, e)
	if err != nil || !ok {
		return err
	}
	line.IncomingRate = realizedRate(e)
	return rc.Tx.SaveVoucherLine(ctx, line)
}

type subcontractingSource struct{}

func (subcontractingSource) Rate(ctx context.Context, rc RateContext, e ledger.Entry) (float64, bool, error) {
	line, ok, err := lineOf(ctx, rc.Tx, e)
	if err != nil || !ok {
		return 0, false, err
	}
	if line.IsReturn {
		return returnRate(ctx, rc, line)
	}
	return line.Rate, true, nil
}

func (subcontractingSource) WriteBack(ctx context.Context, rc RateContext, e ledger.Entry) error {
	if e.ActualQty >= 0 {
		return nil
	}
	line, ok, err := lineOf(ctx, rc.Tx, e)
	if err != nil || !ok {
		return err
	}
	line.Rate = realizedRate(e)
	return rc.Tx.SaveVoucherLine(ctx, line)
}

type stockEntrySource struct{}

func (stockEntrySource) Rate(ctx context.Context, rc RateContext, e ledger.Entry) (float64, bool, error) {
	if err := recalculateStockEntry(ctx, rc.Tx, e.Ref()); err != nil {
		return 0, false, err
	}
	line, ok, err := lineOf(ctx, rc.Tx, e)
	if err != nil || !ok {
		return 0, false, err
	}
	return line.ValuationRate, true, nil
}

func (stockEntrySource) WriteBack(ctx context.Context, rc RateContext, e ledger.Entry) error {
	if e.ActualQty >= 0 {
		return nil
	}
	line, ok, err := lineOf(ctx, rc.Tx, e)
	if err != nil || !ok {
		return err
	}
	line.Rate = realizedRate(e)
	if err := rc.Tx.SaveVoucherLine(ctx, line); err != nil {
		return err
	}
	if e.DependantVoucherDetailNo != "" {
		return nil
	}
	return recalculateStockEntry(ctx, rc.Tx, e.Ref())
}

// recalculateStockEntry spreads the value of consumed lines over the finished
// goods. Lines that are not finished goods carry their basic rate.
func recalculateStockEntry(ctx context.Context, tx ledger.Tx, ref ledger.VoucherRef) error {
	lines, err := tx.VoucherLines(ctx, ref)
	if err != nil {
		return err
	}
	var consumedValue, finishedQty float64
	for _, l := range lines {
		if l.IsFinishedItem {
			finishedQty += math.Abs(l.Qty)
			continue
		}
		consumedValue += math.Abs(l.Qty) * l.Rate
	}
	for _, l := range lines {
		rate := l.Rate
		if l.IsFinishedItem {
			if finishedQty == 0 {
				continue
			}
			rate = consumedValue / finishedQty
			l.Rate = rate
		}
		if l.ValuationRate == rate {
			continue
		}
		l.ValuationRate = rate
		if err := tx.SaveVoucherLine(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

type reconciliationSource struct{}

func (reconciliationSource) Rate(context.Context, RateContext, ledger.Entry) (float64, bool, error) {
	return 0, false, nil
}

// WriteBack refreshes the balance the reconciliation line replaced.
func (reconciliationSource) WriteBack(ctx context.Context, rc RateContext, e ledger.Entry) error {
	if len(e.SerialNos) > 0 || e.BatchNo != "" {
		return nil
	}
	line, ok, err := lineOf(ctx, rc.Tx, e)
	if err != nil || !ok {
		return err
	}
	prev, found, err := rc.Tx.PreviousEntry(ctx, ledger.PreviousQuery{
		Key:       e.Key(),
		Before:    ledger.Point{PostedAt: e.PostedAt},
		Inclusive: true,
		ExcludeID: e.ID,
	})
	if err != nil {
		return err
	}
	line.CurrentQty, line.CurrentValuationRate = 0, 0
	if found {
		line.CurrentQty = prev.QtyAfterTransaction
		line.CurrentValuationRate = prev.ValuationRate
	}
	return rc.Tx.SaveVoucherLine(ctx, line)
}
