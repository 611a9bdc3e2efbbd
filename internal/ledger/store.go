package ledger

import (
	"context"
	"time"
)

// Store opens transactional access to the ledger.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// PreviousQuery selects the last entry of a chain before a point.
type PreviousQuery struct {
	Key    Key
	Before Point
	// Inclusive also matches entries posted exactly at Before.PostedAt.
	Inclusive      bool
	ExcludeVoucher VoucherRef
	ExcludeID      string
}

// ShiftRequest adds Delta to qty_after_transaction of future entries.
type ShiftRequest struct {
	Key            Key
	After          time.Time
	ExcludeVoucher VoucherRef
	// Until bounds the shift to entries strictly before the next reconciliation.
	Until *Point
	// BatchNo restricts the shift when set.
	BatchNo string
	Delta   float64
}

// NegativeQuery selects the first future entry left with a negative balance.
type NegativeQuery struct {
	Key            Key
	From           time.Time
	ExcludeVoucher VoucherRef
	BatchNo        string
}

// BatchBalance is a running batch balance at an entry.
type BatchBalance struct {
	Entry      Entry
	Cumulative float64
}

// EntryFilter narrows entry listings.
type EntryFilter struct {
	ItemCode  string
	Warehouse string
	Voucher   VoucherRef
	From      time.Time
	To        time.Time
	Limit     int
}

// FutureVoucherQuery selects vouchers with entries at or after From.
type FutureVoucherQuery struct {
	From       time.Time
	Items      []string
	Warehouses []string
	Company    string
}

// Tx exposes transactional ledger operations.
type Tx interface {
	InsertEntry(ctx context.Context, e Entry) error
	// LatestEntry returns the last non-cancelled entry of a chain.
	LatestEntry(ctx context.Context, key Key) (Entry, bool, error)
	UpdateEntryValuation(ctx context.Context, e Entry) error
	CancelVoucherEntries(ctx context.Context, ref VoucherRef) error
	EntriesByVoucher(ctx context.Context, ref VoucherRef) ([]Entry, error)
	// VoucherPairs returns the earliest entry of each chain a voucher touched, cancelled entries included.
	VoucherPairs(ctx context.Context, ref VoucherRef) ([]Entry, error)
	EntryByDetailNo(ctx context.Context, detailNo, excludeID string) (Entry, bool, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)

	PreviousEntry(ctx context.Context, q PreviousQuery) (Entry, bool, error)
	// EntriesFrom locks and returns non-cancelled entries at or after from, in ledger order.
	EntriesFrom(ctx context.Context, key Key, from Point) ([]Entry, error)
	// EntriesAt locks and returns non-cancelled entries posted exactly at postedAt.
	EntriesAt(ctx context.Context, key Key, postedAt time.Time) ([]Entry, error)
	ShiftQtyAfter(ctx context.Context, req ShiftRequest) error
	// NextReconciliation returns the first reconciliation strictly after the point.
	NextReconciliation(ctx context.Context, key Key, after Point, exclude VoucherRef, batchNo string) (Entry, bool, error)
	FirstNegative(ctx context.Context, q NegativeQuery) (Entry, bool, error)
	FirstNegativeBatch(ctx context.Context, q NegativeQuery) (BatchBalance, bool, error)
	// BatchTotals sums qty and value of a batch. A zero before means no time bound.
	BatchTotals(ctx context.Context, key Key, batchNo string, before Point, exclude VoucherRef) (qty, value float64, err error)
	LastValuationRate(ctx context.Context, key Key, exclude VoucherRef) (float64, bool, error)
	FutureEntryCounts(ctx context.Context, keys []Key, from time.Time, exclude VoucherRef) (map[Key]int, error)
	FutureVouchers(ctx context.Context, q FutureVoucherQuery) ([]VoucherRef, error)
	LastSerialIncomingRate(ctx context.Context, company, serialNo string) (float64, bool, error)

	Item(ctx context.Context, code string) (Item, error)
	SaveItem(ctx context.Context, item Item) error
	Batch(ctx context.Context, batchNo string) (Batch, bool, error)
	SerialNos(ctx context.Context, nos []string) ([]SerialNo, error)
	BuyingRate(ctx context.Context, itemCode string) (float64, bool, error)

	GetBin(ctx context.Context, key Key) (Bin, bool, error)
	UpsertBin(ctx context.Context, bin Bin) error

	VoucherLine(ctx context.Context, vt VoucherType, detailNo string) (VoucherLine, bool, error)
	VoucherLines(ctx context.Context, ref VoucherRef) ([]VoucherLine, error)
	SaveVoucherLine(ctx context.Context, line VoucherLine) error
}
