package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

var key = ledger.Key{ItemCode: "ITEM-A", Warehouse: "Stores"}

func entry(id string, posted time.Time, qty float64) ledger.Entry {
	return ledger.Entry{
		ID:          id,
		ItemCode:    key.ItemCode,
		Warehouse:   key.Warehouse,
		PostedAt:    posted,
		Creation:    posted,
		VoucherType: ledger.VoucherStockEntry,
		VoucherNo:   "STE-" + id,
		ActualQty:   qty,
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := New()
	ctx := context.Background()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertEntry(ctx, entry("1", day, 5))
	}))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		require.NoError(t, tx.InsertEntry(ctx, entry("2", day.Add(time.Hour), 3)))
		require.NoError(t, tx.UpsertBin(ctx, ledger.Bin{ItemCode: key.ItemCode, Warehouse: key.Warehouse, ActualQty: 8}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.Len(t, store.Entries(), 1)
	_, ok := store.Bin(key)
	require.False(t, ok)
}

func TestChainQueriesFollowLedgerOrder(t *testing.T) {
	store := New()
	ctx := context.Background()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		for _, e := range []ledger.Entry{
			entry("c", day.Add(2*time.Hour), 1),
			entry("a", day, 4),
			entry("b", day.Add(time.Hour), -2),
		} {
			if err := tx.InsertEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		prev, ok, err := tx.PreviousEntry(ctx, ledger.PreviousQuery{Key: key, Before: ledger.Point{PostedAt: day.Add(time.Hour)}})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "a", prev.ID)

		future, err := tx.EntriesFrom(ctx, key, ledger.Point{PostedAt: day.Add(time.Hour)})
		require.NoError(t, err)
		require.Len(t, future, 2)
		require.Equal(t, "b", future[0].ID)
		require.Equal(t, "c", future[1].ID)

		require.NoError(t, tx.CancelVoucherEntries(ctx, ledger.VoucherRef{Type: ledger.VoucherStockEntry, No: "STE-b"}))
		future, err = tx.EntriesFrom(ctx, key, ledger.Point{PostedAt: day.Add(time.Hour)})
		require.NoError(t, err)
		require.Len(t, future, 1)

		counts, err := tx.FutureEntryCounts(ctx, []ledger.Key{key}, day, ledger.VoucherRef{})
		require.NoError(t, err)
		require.Equal(t, 2, counts[key])
		return nil
	}))
}

func TestShiftQtyAfterStopsAtBound(t *testing.T) {
	store := New()
	ctx := context.Background()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		for i, e := range []ledger.Entry{entry("1", day, 1), entry("2", day.Add(time.Hour), 1), entry("3", day.Add(2*time.Hour), 1)} {
			e.QtyAfterTransaction = float64(i + 1)
			if err := tx.InsertEntry(ctx, e); err != nil {
				return err
			}
		}
		bound := ledger.Point{PostedAt: day.Add(2 * time.Hour), Creation: day.Add(2 * time.Hour)}
		return tx.ShiftQtyAfter(ctx, ledger.ShiftRequest{Key: key, After: day, Until: &bound, Delta: 10})
	}))

	entries := store.Entries()
	require.Equal(t, 1.0, entries[0].QtyAfterTransaction)
	require.Equal(t, 12.0, entries[1].QtyAfterTransaction)
	require.Equal(t, 3.0, entries[2].QtyAfterTransaction)
}
