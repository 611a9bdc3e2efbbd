package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestNegativeStockErrorMessage(t *testing.T) {
	err := &NegativeStockError{Shortfalls: []Shortfall{{
		ItemCode:   "ITEM-A",
		Warehouse:  "Stores",
		Deficiency: 1,
		PostedAt:   mustTime(t, "2024-03-01T09:30:00Z"),
		Voucher:    VoucherRef{Type: VoucherDeliveryNote, No: "DN-7"},
	}}}

	require.Equal(t, "1 units of ITEM-A needed in Stores on 2024-03-01 09:30:00 for Delivery Note DN-7 to complete this transaction.", err.Error())

	wrapped := fmt.Errorf("post: %w", err)
	require.ErrorIs(t, wrapped, ErrNegativeStock)
	var target *NegativeStockError
	require.True(t, errors.As(wrapped, &target))
	require.Len(t, target.Shortfalls, 1)
}

func TestNegativeStockErrorBatchSubject(t *testing.T) {
	err := &NegativeStockError{Shortfalls: []Shortfall{{
		ItemCode:   "ITEM-B",
		Warehouse:  "Stores",
		BatchNo:    "B-01",
		Deficiency: 2.5,
	}}}
	require.Equal(t, "2.5 units of batch B-01 needed in Stores to complete this transaction.", err.Error())
}

func TestMissingValuationRateErrorIs(t *testing.T) {
	err := &MissingValuationRateError{ItemCode: "ITEM-C", Voucher: VoucherRef{Type: VoucherStockEntry, No: "STE-1"}}
	require.ErrorIs(t, err, ErrMissingValuationRate)
	require.Contains(t, err.Error(), "Valuation Rate for the Item ITEM-C")
	require.Contains(t, err.Error(), "Stock Entry STE-1")
}
