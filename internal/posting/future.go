package posting

import (
	"context"
	"math"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// ShiftFuture moves the running balance of later entries on the chain by the
// quantity e added, stopping before the next reconciliation, and then checks
// that no later entry was left negative.
func (e *Engine) ShiftFuture(ctx context.Context, tx ledger.Tx, sle ledger.Entry, allowNegative bool) error {
	delta, err := e.qtyShift(ctx, tx, sle)
	if err != nil {
		return err
	}

	req := ledger.ShiftRequest{
		Key:            sle.Key(),
		After:          sle.PostedAt,
		ExcludeVoucher: sle.Ref(),
		Delta:          delta,
	}
	next, ok, err := tx.NextReconciliation(ctx, sle.Key(), sle.Point(), sle.Ref(), sle.BatchNo)
	if err != nil {
		return err
	}
	if ok {
		until := next.Point()
		req.Until = &until
	}
	if delta != 0 {
		if err := tx.ShiftQtyAfter(ctx, req); err != nil {
			return err
		}
	}

	item, err := tx.Item(ctx, sle.ItemCode)
	if err != nil {
		return err
	}
	if e.AllowsNegative(item, allowNegative) {
		return nil
	}
	return e.validateFutureNegative(ctx, tx, sle)
}

// qtyShift is the actual quantity for ordinary entries. A reconciliation
// shifts by the difference between the balance it asserts and the balance it
// replaced.
func (e *Engine) qtyShift(ctx context.Context, tx ledger.Tx, sle ledger.Entry) (float64, error) {
	if !sle.VoucherType.IsReconciliation() {
		return sle.ActualQty, nil
	}
	if sle.IsCancelled {
		if sle.PreviousQtyAfterTransaction != nil && *sle.PreviousQtyAfterTransaction != 0 {
			return sle.QtyAfterTransaction - *sle.PreviousQtyAfterTransaction, nil
		}
		return sle.ActualQty, nil
	}
	prev, ok, err := tx.PreviousEntry(ctx, ledger.PreviousQuery{
		Key:            sle.Key(),
		Before:         ledger.Point{PostedAt: sle.PostedAt},
		Inclusive:      true,
		ExcludeVoucher: sle.Ref(),
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return sle.QtyAfterTransaction, nil
	}
	return sle.QtyAfterTransaction - prev.QtyAfterTransaction, nil
}

func (e *Engine) validateFutureNegative(ctx context.Context, tx ledger.Tx, sle ledger.Entry) error {
	if sle.ActualQty >= 0 && !sle.VoucherType.IsReconciliation() {
		return nil
	}
	q := ledger.NegativeQuery{Key: sle.Key(), From: sle.PostedAt, ExcludeVoucher: sle.Ref()}
	if sle.VoucherType.IsReconciliation() {
		q.BatchNo = sle.BatchNo
	}
	neg, ok, err := tx.FirstNegative(ctx, q)
	if err != nil {
		return err
	}
	if ok && valuation.IsNegative(neg.QtyAfterTransaction, e.cfg.FloatPrecision) {
		return &ledger.NegativeStockError{Shortfalls: []ledger.Shortfall{{
			ItemCode:   neg.ItemCode,
			Warehouse:  neg.Warehouse,
			Deficiency: math.Abs(neg.QtyAfterTransaction),
			PostedAt:   neg.PostedAt,
			Voucher:    neg.Ref(),
		}}}
	}

	if sle.BatchNo == "" {
		return nil
	}
	q.BatchNo = sle.BatchNo
	bal, ok, err := tx.FirstNegativeBatch(ctx, q)
	if err != nil {
		return err
	}
	if ok && valuation.IsNegative(bal.Cumulative, e.cfg.FloatPrecision) {
		return &ledger.NegativeStockError{Shortfalls: []ledger.Shortfall{{
			ItemCode:   bal.Entry.ItemCode,
			Warehouse:  bal.Entry.Warehouse,
			BatchNo:    sle.BatchNo,
			Deficiency: math.Abs(bal.Cumulative),
			PostedAt:   bal.Entry.PostedAt,
			Voucher:    bal.Entry.Ref(),
		}}}
	}
	return nil
}
