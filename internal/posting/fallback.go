package posting

import (
	"context"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// FallbackRate walks the valuation fallback chain for an entry whose own rate
// is unknown: the batch average, the last rate on the chain, the item's
// valuation rate, its standard rate and finally the buying price list.
// Without allowZero a chain that ends at zero yields MissingValuationRateError.
func FallbackRate(ctx context.Context, tx ledger.Tx, e ledger.Entry, allowZero bool) (float64, error) {
	ref := e.Ref()
	if e.BatchNo != "" {
		batch, ok, err := tx.Batch(ctx, e.BatchNo)
		if err != nil {
			return 0, err
		}
		if ok && batch.UseBatchwiseValuation {
			qty, value, err := tx.BatchTotals(ctx, e.Key(), e.BatchNo, ledger.Point{}, ref)
			if err != nil {
				return 0, err
			}
			if qty != 0 {
				return value / qty, nil
			}
		}
	}

	if rate, ok, err := tx.LastValuationRate(ctx, e.Key(), ref); err != nil {
		return 0, err
	} else if ok && rate > 0 {
		return rate, nil
	}

	item, err := tx.Item(ctx, e.ItemCode)
	if err != nil {
		return 0, err
	}
	if item.ValuationRate > 0 {
		return item.ValuationRate, nil
	}
	if item.StandardRate > 0 {
		return item.StandardRate, nil
	}
	if rate, ok, err := tx.BuyingRate(ctx, e.ItemCode); err != nil {
		return 0, err
	} else if ok && rate > 0 {
		return rate, nil
	}

	if !allowZero {
		return 0, &ledger.MissingValuationRateError{ItemCode: e.ItemCode, Voucher: ref}
	}
	return 0, nil
}
