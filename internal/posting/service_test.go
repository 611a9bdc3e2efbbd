package posting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

func TestRecordMovementRejectsShortfall(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 10, 5))

	_, err := f.svc.RecordMovement(context.Background(), MovementRequest{
		Voucher: ledger.VoucherRef{Type: ledger.VoucherDeliveryNote, No: "DN-1"},
		Entries: []ledger.Entry{move(stores, day.Add(time.Hour), -11, 0)},
	})
	require.ErrorIs(t, err, ledger.ErrNegativeStock)

	var negErr *ledger.NegativeStockError
	require.ErrorAs(t, err, &negErr)
	require.Len(t, negErr.Shortfalls, 1)
	require.InDelta(t, 1, negErr.Shortfalls[0].Deficiency, 1e-9)
	require.Equal(t, "1 units of ITEM-A needed in Stores to complete this transaction.", err.Error())

	chain := f.chain(stores)
	require.Len(t, chain, 1)
	bin, ok := f.store.Bin(stores)
	require.True(t, ok)
	require.InDelta(t, 10, bin.ActualQty, 1e-9)
}

func TestRecordMovementAllowsNegativeWhenConfigured(t *testing.T) {
	f := newFixture(t, Config{AllowNegativeStock: true}, stockItem("ITEM-A", valuation.MethodFIFO))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 10, 5))

	res := f.record(t, ledger.VoucherDeliveryNote, "DN-1", move(stores, day.Add(time.Hour), -11, 0))
	require.Len(t, res.Entries, 1)
	require.InDelta(t, -1, res.Entries[0].QtyAfterTransaction, 1e-9)
	require.True(t, res.RepostScheduled, "negative lot left in the queue")

	bin, ok := f.store.Bin(stores)
	require.True(t, ok)
	require.InDelta(t, -1, bin.ActualQty, 1e-9)
}

func TestRecordMovementMovingAverage(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodMovingAverage))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 50, 100))
	res := f.record(t, ledger.VoucherPurchaseReceipt, "PR-2", move(stores, day.Add(time.Hour), 25, 900))

	sle := res.Entries[0]
	require.InDelta(t, 75, sle.QtyAfterTransaction, 1e-9)
	require.InDelta(t, 366.67, sle.ValuationRate, 0.01)
	require.InDelta(t, 27500, sle.StockValue, 0.01)
	require.InDelta(t, 22500, sle.StockValueDifference, 0.01)
	require.False(t, res.RepostScheduled)
}

func TestReconciliationAssertsBalance(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 10, 100))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-2", move(stores, day.Add(time.Hour), 8, 100))

	reco := ledger.Entry{
		ItemCode:            stores.ItemCode,
		Warehouse:           stores.Warehouse,
		PostedAt:            day.Add(2 * time.Hour),
		QtyAfterTransaction: 6,
		ValuationRate:       100,
	}
	res := f.record(t, ledger.VoucherStockReconciliation, "SR-1", reco)
	require.InDelta(t, 6, res.Entries[0].QtyAfterTransaction, 1e-9)
	require.InDelta(t, -12, res.Entries[0].ActualQty, 1e-9)
	require.NotNil(t, res.Entries[0].PreviousQtyAfterTransaction)
	require.InDelta(t, 18, *res.Entries[0].PreviousQtyAfterTransaction, 1e-9)

	res = f.record(t, ledger.VoucherPurchaseReceipt, "PR-3", move(stores, day.Add(3*time.Hour), 1, 100))
	require.InDelta(t, 7, res.Entries[0].QtyAfterTransaction, 1e-9)
	require.InDelta(t, 700, res.Entries[0].StockValue, 1e-9)
	requireBalanceInvariant(t, f.chain(stores))
}

func TestBackdatedEntryShiftsFutureAndSchedulesRepost(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 10, 10))
	f.record(t, ledger.VoucherDeliveryNote, "DN-1", move(stores, day.Add(2*time.Hour), -4, 0))

	res := f.record(t, ledger.VoucherPurchaseReceipt, "PR-2", move(stores, day.Add(time.Hour), 5, 20))
	require.True(t, res.RepostScheduled)
	require.Equal(t, []string{"job-PR-2"}, res.JobIDs)
	require.Len(t, f.sched.requests, 1)
	require.Equal(t, day.Add(time.Hour), f.sched.requests[0].PostedAt)
	require.Equal(t, []ledger.Key{stores}, f.sched.requests[0].Keys)

	chain := f.chain(stores)
	require.Len(t, chain, 3)
	require.Equal(t, "DN-1", chain[2].VoucherNo)
	require.InDelta(t, 11, chain[2].QtyAfterTransaction, 1e-9)

	bin, _ := f.store.Bin(stores)
	require.InDelta(t, 11, bin.ActualQty, 1e-9)
}

func TestRejectedRepostRollsBackMovement(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 10, 10))
	f.record(t, ledger.VoucherDeliveryNote, "DN-1", move(stores, day.Add(2*time.Hour), -4, 0))
	before := f.chain(stores)[1]
	closed := errors.New("period closed")
	f.sched.scheduleErr = closed

	res, err := f.svc.RecordMovement(context.Background(), MovementRequest{
		Voucher: ledger.VoucherRef{Type: ledger.VoucherPurchaseReceipt, No: "PR-2"},
		Entries: []ledger.Entry{move(stores, day.Add(time.Hour), 5, 20)},
	})
	require.ErrorIs(t, err, closed)
	require.False(t, res.Committed)
	require.Empty(t, f.sched.ran)

	chain := f.chain(stores)
	require.Len(t, chain, 2)
	require.Equal(t, before, chain[1])
	bin, _ := f.store.Bin(stores)
	require.InDelta(t, 6, bin.ActualQty, 1e-9)
}

func TestRepostRunFailureKeepsCommittedMovement(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 10, 10))
	f.record(t, ledger.VoucherDeliveryNote, "DN-1", move(stores, day.Add(2*time.Hour), -4, 0))
	f.sched.runErr = errors.New("gl unavailable")

	res, err := f.svc.RecordMovement(context.Background(), MovementRequest{
		Voucher: ledger.VoucherRef{Type: ledger.VoucherPurchaseReceipt, No: "PR-2"},
		Entries: []ledger.Entry{move(stores, day.Add(time.Hour), 5, 20)},
	})
	require.ErrorIs(t, err, f.sched.runErr)
	require.True(t, res.Committed)
	require.Equal(t, []string{"job-PR-2"}, f.sched.ran)
	require.Len(t, f.chain(stores), 3)
}

func TestBackdatedOutgoingValidatesFuture(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 10, 10))
	f.record(t, ledger.VoucherDeliveryNote, "DN-1", move(stores, day.Add(2*time.Hour), -8, 0))

	_, err := f.svc.RecordMovement(context.Background(), MovementRequest{
		Voucher: ledger.VoucherRef{Type: ledger.VoucherDeliveryNote, No: "DN-2"},
		Entries: []ledger.Entry{move(stores, day.Add(time.Hour), -5, 0)},
	})
	var negErr *ledger.NegativeStockError
	require.ErrorAs(t, err, &negErr)
	require.Equal(t, ledger.VoucherRef{Type: ledger.VoucherDeliveryNote, No: "DN-1"}, negErr.Shortfalls[0].Voucher)
	require.InDelta(t, 3, negErr.Shortfalls[0].Deficiency, 1e-9)
	require.Equal(t, "3 units of ITEM-A needed in Stores on 2024-03-01 11:00:00 for Delivery Note DN-1 to complete this transaction.", err.Error())

	chain := f.chain(stores)
	require.Len(t, chain, 2)
	require.InDelta(t, 2, chain[1].QtyAfterTransaction, 1e-9)
}

func TestCancelRoundTrip(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 10, 10))
	f.record(t, ledger.VoucherDeliveryNote, "DN-1", move(stores, day.Add(2*time.Hour), -3, 0))
	before := f.chain(stores)[1]

	f.record(t, ledger.VoucherPurchaseReceipt, "PR-2", move(stores, day.Add(time.Hour), 5, 20))
	f.repost(t, stores, day.Add(time.Hour), nil)
	shifted := f.chain(stores)[2]
	require.InDelta(t, 12, shifted.QtyAfterTransaction, 1e-9)

	res, err := f.svc.RecordMovement(context.Background(), MovementRequest{
		Voucher: ledger.VoucherRef{Type: ledger.VoucherPurchaseReceipt, No: "PR-2"},
		Cancel:  true,
	})
	require.NoError(t, err)
	require.True(t, res.RepostScheduled)
	require.Equal(t, []ledger.VoucherRef{{Type: ledger.VoucherPurchaseReceipt, No: "PR-2"}}, f.sched.cancelled)

	f.repost(t, stores, day.Add(time.Hour), nil)
	chain := f.chain(stores)
	require.Len(t, chain, 2)
	after := chain[1]
	require.Equal(t, before.ID, after.ID)
	require.InDelta(t, before.QtyAfterTransaction, after.QtyAfterTransaction, 1e-9)
	require.InDelta(t, before.ValuationRate, after.ValuationRate, 1e-9)
	require.InDelta(t, before.StockValue, after.StockValue, 1e-9)
	require.Equal(t, before.StockQueue, after.StockQueue)

	var reversal *ledger.Entry
	for _, e := range f.store.Entries() {
		if e.VoucherNo == "PR-2" && e.ActualQty < 0 {
			e := e
			reversal = &e
		}
	}
	require.NotNil(t, reversal)
	require.True(t, reversal.IsCancelled)
	require.InDelta(t, 20, reversal.OutgoingRate, 1e-9)
}

func TestCancelRefusedWhileRepostRuns(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))
	f.record(t, ledger.VoucherPurchaseReceipt, "PR-1", move(stores, day, 10, 10))
	busy := errors.New("reposting in progress")
	f.sched.cancelErr = busy

	_, err := f.svc.RecordMovement(context.Background(), MovementRequest{
		Voucher: ledger.VoucherRef{Type: ledger.VoucherPurchaseReceipt, No: "PR-1"},
		Cancel:  true,
	})
	require.ErrorIs(t, err, busy)
	require.Len(t, f.chain(stores), 1)
}

func TestRecordMovementSkipsNonStockItems(t *testing.T) {
	f := newFixture(t, Config{}, ledger.Item{Code: "SERVICE", ValuationMethod: valuation.MethodFIFO})
	res := f.record(t, ledger.VoucherPurchaseInvoice, "PI-1", move(ledger.Key{ItemCode: "SERVICE", Warehouse: "Stores"}, day, 1, 10))
	require.Empty(t, res.Entries)
	require.Empty(t, f.store.Entries())
}

func TestRecordMovementValidatesInput(t *testing.T) {
	f := newFixture(t, Config{}, stockItem("ITEM-A", valuation.MethodFIFO))

	_, err := f.svc.RecordMovement(context.Background(), MovementRequest{
		Voucher: ledger.VoucherRef{Type: ledger.VoucherDeliveryNote, No: "DN-1"},
	})
	require.ErrorIs(t, err, ErrEmptyMovement)

	_, err = f.svc.RecordMovement(context.Background(), MovementRequest{
		Voucher: ledger.VoucherRef{Type: ledger.VoucherDeliveryNote, No: "DN-1"},
		Entries: []ledger.Entry{{ItemCode: "ITEM-A", PostedAt: day, ActualQty: -1}},
	})
	require.ErrorIs(t, err, ledger.ErrInvalidEntry)

	_, err = f.svc.RecordMovement(context.Background(), MovementRequest{
		Entries: []ledger.Entry{move(stores, day, 1, 1)},
	})
	require.ErrorIs(t, err, ledger.ErrInvalidEntry)
}
