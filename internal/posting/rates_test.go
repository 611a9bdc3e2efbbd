package posting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

func TestDefaultRateSourcesCoverEveryVoucherType(t *testing.T) {
	sources := DefaultRateSources()
	for _, vt := range ledger.VoucherTypes() {
		require.NotNil(t, sources[vt], vt.String())
	}
}

func TestSalesWriteBackRecordsRealizedRate(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	ctx := context.Background()
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 4, 10), move(stores, day, 4, 20))

	out := move(stores, day.Add(time.Hour), -6, 0)
	out.VoucherDetailNo = "dn-1"
	_, err := f.svc.RecordMovement(ctx, MovementRequest{
		Voucher: ledger.VoucherRef{Type: ledger.VoucherDeliveryNote, No: "DN-1"},
		Entries: []ledger.Entry{out},
		Lines:   []ledger.VoucherLine{{DetailNo: "dn-1", ItemCode: "ITEM-A", Qty: 6}},
	})
	require.NoError(t, err)

	f.repost(t, stores, day, nil)
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		line, ok, err := tx.VoucherLine(ctx, ledger.VoucherDeliveryNote, "dn-1")
		require.NoError(t, err)
		require.True(t, ok)
		require.InDelta(t, (4*10+2*20)/6.0, line.IncomingRate, 1e-9)
		return nil
	}))
}

func TestPurchaseReturnUsesOriginalRate(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	ctx := context.Background()

	in := move(stores, day, 5, 12)
	in.VoucherDetailNo = "pr-1"
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", in)

	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		require.NoError(t, tx.SaveVoucherLine(ctx, ledger.VoucherLine{
			VoucherType:           ledger.VoucherPurchaseReceipt,
			VoucherNo:             "PR-RET-1",
			DetailNo:              "pr-ret-1",
			ItemCode:              "ITEM-A",
			Qty:                   -2,
			ValuationRate:         99,
			IsReturn:              true,
			ReturnAgainstDetailNo: "pr-1",
		}))
		ret := ledger.Entry{
			ItemCode:        "ITEM-A",
			Warehouse:       "Stores",
			VoucherType:     ledger.VoucherPurchaseReceipt,
			VoucherNo:       "PR-RET-1",
			VoucherDetailNo: "pr-ret-1",
			ActualQty:       -2,
		}
		rate, ok, err := purchaseSource{}.Rate(ctx, RateContext{Tx: tx, Method: valuation.MethodFIFO}, ret)
		require.NoError(t, err)
		require.True(t, ok)
		require.InDelta(t, 12, rate, 1e-9)

		rate, ok, err = purchaseSource{}.Rate(ctx, RateContext{Tx: tx, Method: valuation.MethodMovingAverage, Rate: 15}, ret)
		require.NoError(t, err)
		require.True(t, ok)
		require.InDelta(t, 15, rate, 1e-9)
		return nil
	}))
}

func TestInternalTransferMirrorsDeliveryRate(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	ctx := context.Background()

	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		require.NoError(t, tx.SaveVoucherLine(ctx, ledger.VoucherLine{
			VoucherType: ledger.VoucherDeliveryNote, VoucherNo: "DN-9", DetailNo: "dn-9", ItemCode: "ITEM-A", IncomingRate: 42,
		}))
		require.NoError(t, tx.SaveVoucherLine(ctx, ledger.VoucherLine{
			VoucherType: ledger.VoucherPurchaseReceipt, VoucherNo: "PR-9", DetailNo: "pr-9", ItemCode: "ITEM-A",
			ValuationRate: 1, IsInternalSupplier: true, InternalTransferDetailNo: "dn-9",
		}))
		e := ledger.Entry{ItemCode: "ITEM-A", Warehouse: "Stores", VoucherType: ledger.VoucherPurchaseReceipt, VoucherNo: "PR-9", VoucherDetailNo: "pr-9", ActualQty: 3}
		rate, ok, err := purchaseSource{}.Rate(ctx, RateContext{Tx: tx}, e)
		require.NoError(t, err)
		require.True(t, ok)
		require.InDelta(t, 42, rate, 1e-9)
		return nil
	}))
}

func TestStockEntryRecalculatesFinishedGoods(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	ref := ledger.VoucherRef{Type: ledger.VoucherStockEntry, No: "STE-1"}

	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		for _, l := range []ledger.VoucherLine{
			{DetailNo: "a", ItemCode: "RAW-1", Qty: 2, Rate: 10},
			{DetailNo: "b", ItemCode: "RAW-2", Qty: 1, Rate: 30},
			{DetailNo: "c", ItemCode: "FG", Qty: 5, IsFinishedItem: true},
		} {
			l.VoucherType, l.VoucherNo = ref.Type, ref.No
			require.NoError(t, tx.SaveVoucherLine(ctx, l))
		}
		require.NoError(t, recalculateStockEntry(ctx, tx, ref))

		fg, ok, err := tx.VoucherLine(ctx, ref.Type, "c")
		require.NoError(t, err)
		require.True(t, ok)
		require.InDelta(t, 10, fg.ValuationRate, 1e-9)

		raw, _, err := tx.VoucherLine(ctx, ref.Type, "a")
		require.NoError(t, err)
		require.InDelta(t, 10, raw.ValuationRate, 1e-9)
		return nil
	}))
}
