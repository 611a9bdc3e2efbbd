// Package memstore is an in-memory ledger.Store used by tests and local runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

type row struct {
	ledger.Entry
	seq int
}

type lineKey struct {
	voucherType ledger.VoucherType
	detailNo    string
}

type state struct {
	entries []row
	bins    map[ledger.Key]ledger.Bin
	items   map[string]ledger.Item
	batches map[string]ledger.Batch
	serials map[string]ledger.SerialNo
	prices  map[string]float64
	lines   map[lineKey]ledger.VoucherLine
	seq     int
}

func newState() state {
	return state{
		bins:    make(map[ledger.Key]ledger.Bin),
		items:   make(map[string]ledger.Item),
		batches: make(map[string]ledger.Batch),
		serials: make(map[string]ledger.SerialNo),
		prices:  make(map[string]float64),
		lines:   make(map[lineKey]ledger.VoucherLine),
	}
}

func (s state) clone() state {
	out := newState()
	out.seq = s.seq
	out.entries = make([]row, len(s.entries))
	for i, r := range s.entries {
		out.entries[i] = row{Entry: cloneEntry(r.Entry), seq: r.seq}
	}
	for k, v := range s.bins {
		out.bins[k] = v
	}
	for k, v := range s.items {
		out.items[k] = v
	}
	for k, v := range s.batches {
		out.batches[k] = v
	}
	for k, v := range s.serials {
		out.serials[k] = v
	}
	for k, v := range s.prices {
		out.prices[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = v
	}
	return out
}

func cloneEntry(e ledger.Entry) ledger.Entry {
	e.StockQueue = e.StockQueue.Clone()
	if e.SerialNos != nil {
		e.SerialNos = append([]string(nil), e.SerialNos...)
	}
	if e.PreviousQtyAfterTransaction != nil {
		v := *e.PreviousQtyAfterTransaction
		e.PreviousQtyAfterTransaction = &v
	}
	return e
}

// Store keeps the whole ledger in memory. Transactions are serialised and
// rolled back by restoring a snapshot when the callback fails.
type Store struct {
	mu sync.Mutex
	st state
}

// New constructs an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// WithTx runs fn with exclusive access. A returned error discards every write made by fn.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(ctx, &txView{st: &s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Entries returns every entry, cancelled included, in ledger order.
func (s *Store) Entries() []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := sortedRows(s.st.entries)
	out := make([]ledger.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneEntry(r.Entry))
	}
	return out
}

// Bin returns the cached balance for key.
func (s *Store) Bin(key ledger.Key) (ledger.Bin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.bins[key]
	return b, ok
}

// PutItem registers an item master.
func (s *Store) PutItem(item ledger.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.items[item.Code] = item
}

// PutBatch registers a batch master.
func (s *Store) PutBatch(b ledger.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.batches[b.No] = b
}

// PutSerialNo registers a serial number master.
func (s *Store) PutSerialNo(sn ledger.SerialNo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.serials[sn.No] = sn
}

// PutBuyingRate registers a buying price list rate.
func (s *Store) PutBuyingRate(itemCode string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.prices[itemCode] = rate
}

func sortedRows(rows []row) []row {
	out := append([]row(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return rowBefore(out[i], out[j])
	})
	return out
}

func rowBefore(a, b row) bool {
	if !a.PostedAt.Equal(b.PostedAt) {
		return a.PostedAt.Before(b.PostedAt)
	}
	if !a.Creation.Equal(b.Creation) {
		return a.Creation.Before(b.Creation)
	}
	return a.seq < b.seq
}

type txView struct {
	st *state
}

func sameVoucher(e ledger.Entry, ref ledger.VoucherRef) bool {
	return !ref.IsZero() && e.VoucherType == ref.Type && e.VoucherNo == ref.No
}

func (t *txView) live(key ledger.Key) []row {
	var out []row
	for _, r := range t.st.entries {
		if r.IsCancelled || r.Key() != key {
			continue
		}
		out = append(out, r)
	}
	return sortedRows(out)
}

func (t *txView) InsertEntry(_ context.Context, e ledger.Entry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ledger.ErrInvalidEntry)
	}
	for _, r := range t.st.entries {
		if r.ID == e.ID {
			return fmt.Errorf("%w: duplicate id %s", ledger.ErrInvalidEntry, e.ID)
		}
	}
	t.st.seq++
	t.st.entries = append(t.st.entries, row{Entry: cloneEntry(e), seq: t.st.seq})
	return nil
}

func (t *txView) UpdateEntryValuation(_ context.Context, e ledger.Entry) error {
	for i := range t.st.entries {
		r := &t.st.entries[i]
		if r.ID != e.ID {
			continue
		}
		r.ActualQty = e.ActualQty
		r.IncomingRate = e.IncomingRate
		r.OutgoingRate = e.OutgoingRate
		r.ValuationRate = e.ValuationRate
		r.QtyAfterTransaction = e.QtyAfterTransaction
		r.StockValue = e.StockValue
		r.StockValueDifference = e.StockValueDifference
		r.StockQueue = e.StockQueue.Clone()
		r.RecalculateRate = e.RecalculateRate
		if e.PreviousQtyAfterTransaction != nil {
			v := *e.PreviousQtyAfterTransaction
			r.PreviousQtyAfterTransaction = &v
		} else {
			r.PreviousQtyAfterTransaction = nil
		}
		return nil
	}
	return fmt.Errorf("%w: entry %s not found", ledger.ErrInvalidEntry, e.ID)
}

func (t *txView) CancelVoucherEntries(_ context.Context, ref ledger.VoucherRef) error {
	for i := range t.st.entries {
		if sameVoucher(t.st.entries[i].Entry, ref) {
			t.st.entries[i].IsCancelled = true
		}
	}
	return nil
}

func (t *txView) EntriesByVoucher(_ context.Context, ref ledger.VoucherRef) ([]ledger.Entry, error) {
	var out []row
	for _, r := range t.st.entries {
		if !r.IsCancelled && sameVoucher(r.Entry, ref) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Creation.Equal(out[j].Creation) {
			return out[i].Creation.Before(out[j].Creation)
		}
		return out[i].seq < out[j].seq
	})
	return toEntries(out), nil
}

func (t *txView) VoucherPairs(_ context.Context, ref ledger.VoucherRef) ([]ledger.Entry, error) {
	var matched []row
	for _, r := range t.st.entries {
		if sameVoucher(r.Entry, ref) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Creation.Equal(matched[j].Creation) {
			return matched[i].Creation.Before(matched[j].Creation)
		}
		return matched[i].seq < matched[j].seq
	})
	seen := make(map[ledger.Key]bool)
	var out []row
	for _, r := range matched {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return toEntries(out), nil
}

func (t *txView) EntryByDetailNo(_ context.Context, detailNo, excludeID string) (ledger.Entry, bool, error) {
	for _, r := range t.st.entries {
		if r.IsCancelled || r.VoucherDetailNo != detailNo || r.ID == excludeID {
			continue
		}
		return cloneEntry(r.Entry), true, nil
	}
	return ledger.Entry{}, false, nil
}

func (t *txView) ListEntries(_ context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	var out []row
	for _, r := range sortedRows(t.st.entries) {
		if r.IsCancelled {
			continue
		}
		if f.ItemCode != "" && r.ItemCode != f.ItemCode {
			continue
		}
		if f.Warehouse != "" && r.Warehouse != f.Warehouse {
			continue
		}
		if !f.Voucher.IsZero() && !sameVoucher(r.Entry, f.Voucher) {
			continue
		}
		if !f.From.IsZero() && r.PostedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && r.PostedAt.After(f.To) {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return toEntries(out), nil
}

func toEntries(rows []row) []ledger.Entry {
	out := make([]ledger.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneEntry(r.Entry))
	}
	return out
}

func (t *txView) PreviousEntry(_ context.Context, q ledger.PreviousQuery) (ledger.Entry, bool, error) {
	rows := t.live(q.Key)
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if sameVoucher(r.Entry, q.ExcludeVoucher) || (q.ExcludeID != "" && r.ID == q.ExcludeID) {
			continue
		}
		var match bool
		switch {
		case q.Inclusive:
			match = !r.PostedAt.After(q.Before.PostedAt)
		case q.Before.Creation.IsZero():
			match = r.PostedAt.Before(q.Before.PostedAt)
		default:
			match = r.Point().Before(q.Before)
		}
		if match {
			return cloneEntry(r.Entry), true, nil
		}
	}
	return ledger.Entry{}, false, nil
}

func (t *txView) LatestEntry(_ context.Context, key ledger.Key) (ledger.Entry, bool, error) {
	rows := t.live(key)
	if len(rows) == 0 {
		return ledger.Entry{}, false, nil
	}
	return cloneEntry(rows[len(rows)-1].Entry), true, nil
}

func (t *txView) EntriesFrom(_ context.Context, key ledger.Key, from ledger.Point) ([]ledger.Entry, error) {
	var out []row
	for _, r := range t.live(key) {
		if r.PostedAt.Before(from.PostedAt) {
			continue
		}
		if !from.Creation.IsZero() && r.Point().Before(from) {
			continue
		}
		out = append(out, r)
	}
	return toEntries(out), nil
}

func (t *txView) EntriesAt(_ context.Context, key ledger.Key, postedAt time.Time) ([]ledger.Entry, error) {
	var out []row
	for _, r := range t.live(key) {
		if r.PostedAt.Equal(postedAt) {
			out = append(out, r)
		}
	}
	return toEntries(out), nil
}

func (t *txView) ShiftQtyAfter(_ context.Context, req ledger.ShiftRequest) error {
	for i := range t.st.entries {
		r := &t.st.entries[i]
		if r.IsCancelled || r.Key() != req.Key || !r.PostedAt.After(req.After) {
			continue
		}
		if sameVoucher(r.Entry, req.ExcludeVoucher) {
			continue
		}
		if req.Until != nil && !r.Point().Before(*req.Until) {
			continue
		}
		if req.BatchNo != "" && r.BatchNo != req.BatchNo {
			continue
		}
		r.QtyAfterTransaction += req.Delta
	}
	return nil
}

func (t *txView) NextReconciliation(_ context.Context, key ledger.Key, after ledger.Point, exclude ledger.VoucherRef, batchNo string) (ledger.Entry, bool, error) {
	for _, r := range t.live(key) {
		if !r.VoucherType.IsReconciliation() || !after.Before(r.Point()) || sameVoucher(r.Entry, exclude) {
			continue
		}
		if batchNo != "" && r.BatchNo != batchNo {
			continue
		}
		return cloneEntry(r.Entry), true, nil
	}
	return ledger.Entry{}, false, nil
}

func (t *txView) FirstNegative(_ context.Context, q ledger.NegativeQuery) (ledger.Entry, bool, error) {
	for _, r := range t.live(q.Key) {
		if r.PostedAt.Before(q.From) || r.QtyAfterTransaction >= 0 || sameVoucher(r.Entry, q.ExcludeVoucher) {
			continue
		}
		if q.BatchNo != "" && r.BatchNo != q.BatchNo {
			continue
		}
		return cloneEntry(r.Entry), true, nil
	}
	return ledger.Entry{}, false, nil
}

func (t *txView) FirstNegativeBatch(_ context.Context, q ledger.NegativeQuery) (ledger.BatchBalance, bool, error) {
	var cumulative float64
	for _, r := range t.live(q.Key) {
		if r.BatchNo != q.BatchNo {
			continue
		}
		cumulative += r.ActualQty
		if cumulative < 0 && !r.PostedAt.Before(q.From) {
			return ledger.BatchBalance{Entry: cloneEntry(r.Entry), Cumulative: cumulative}, true, nil
		}
	}
	return ledger.BatchBalance{}, false, nil
}

func (t *txView) BatchTotals(_ context.Context, key ledger.Key, batchNo string, before ledger.Point, exclude ledger.VoucherRef) (float64, float64, error) {
	var qty, value float64
	for _, r := range t.live(key) {
		if r.BatchNo != batchNo || sameVoucher(r.Entry, exclude) {
			continue
		}
		if !before.PostedAt.IsZero() {
			if before.Creation.IsZero() && !r.PostedAt.Before(before.PostedAt) {
				continue
			}
			if !before.Creation.IsZero() && !r.Point().Before(before) {
				continue
			}
		}
		qty += r.ActualQty
		value += r.StockValueDifference
	}
	return qty, value, nil
}

func (t *txView) lastRate(match func(row) bool) (float64, bool) {
	rows := sortedRows(t.st.entries)
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.IsCancelled || !match(r) {
			continue
		}
		return r.ValuationRate, true
	}
	return 0, false
}

func (t *txView) LastValuationRate(_ context.Context, key ledger.Key, exclude ledger.VoucherRef) (float64, bool, error) {
	rate, ok := t.lastRate(func(r row) bool {
		return r.Key() == key && r.ValuationRate > 0 && !sameVoucher(r.Entry, exclude)
	})
	return rate, ok, nil
}

func (t *txView) FutureEntryCounts(_ context.Context, keys []ledger.Key, from time.Time, exclude ledger.VoucherRef) (map[ledger.Key]int, error) {
	wanted := make(map[ledger.Key]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	counts := make(map[ledger.Key]int, len(keys))
	for _, r := range t.st.entries {
		if r.IsCancelled || !wanted[r.Key()] || r.PostedAt.Before(from) || sameVoucher(r.Entry, exclude) {
			continue
		}
		counts[r.Key()]++
	}
	return counts, nil
}

func (t *txView) FutureVouchers(_ context.Context, q ledger.FutureVoucherQuery) ([]ledger.VoucherRef, error) {
	items := toSet(q.Items)
	warehouses := toSet(q.Warehouses)
	seen := make(map[ledger.VoucherRef]bool)
	var refs []ledger.VoucherRef
	for _, r := range sortedRows(t.st.entries) {
		if r.IsCancelled || r.PostedAt.Before(q.From) {
			continue
		}
		if len(items) > 0 && !items[r.ItemCode] {
			continue
		}
		if len(warehouses) > 0 && !warehouses[r.Warehouse] {
			continue
		}
		if q.Company != "" && r.Company != q.Company {
			continue
		}
		ref := r.Ref()
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func (t *txView) LastSerialIncomingRate(_ context.Context, company, serialNo string) (float64, bool, error) {
	rows := sortedRows(t.st.entries)
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.IsCancelled || r.ActualQty <= 0 || r.Company != company {
			continue
		}
		for _, sn := range r.SerialNos {
			if sn == serialNo {
				return r.IncomingRate, true, nil
			}
		}
	}
	return 0, false, nil
}

func (t *txView) Item(_ context.Context, code string) (ledger.Item, error) {
	item, ok := t.st.items[code]
	if !ok {
		return ledger.Item{}, fmt.Errorf("%w: %s", ledger.ErrItemNotFound, code)
	}
	return item, nil
}

func (t *txView) SaveItem(_ context.Context, item ledger.Item) error {
	t.st.items[item.Code] = item
	return nil
}

func (t *txView) Batch(_ context.Context, batchNo string) (ledger.Batch, bool, error) {
	b, ok := t.st.batches[batchNo]
	return b, ok, nil
}

func (t *txView) SerialNos(_ context.Context, nos []string) ([]ledger.SerialNo, error) {
	out := make([]ledger.SerialNo, 0, len(nos))
	for _, no := range nos {
		if sn, ok := t.st.serials[no]; ok {
			out = append(out, sn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].No, out[j].No) < 0 })
	return out, nil
}

func (t *txView) BuyingRate(_ context.Context, itemCode string) (float64, bool, error) {
	rate, ok := t.st.prices[itemCode]
	return rate, ok, nil
}

func (t *txView) GetBin(_ context.Context, key ledger.Key) (ledger.Bin, bool, error) {
	b, ok := t.st.bins[key]
	if !ok {
		return ledger.Bin{ItemCode: key.ItemCode, Warehouse: key.Warehouse}, false, nil
	}
	return b, true, nil
}

func (t *txView) UpsertBin(_ context.Context, bin ledger.Bin) error {
	t.st.bins[bin.Key()] = bin
	return nil
}

func (t *txView) VoucherLine(_ context.Context, vt ledger.VoucherType, detailNo string) (ledger.VoucherLine, bool, error) {
	l, ok := t.st.lines[lineKey{voucherType: vt, detailNo: detailNo}]
	return l, ok, nil
}

func (t *txView) VoucherLines(_ context.Context, ref ledger.VoucherRef) ([]ledger.VoucherLine, error) {
	var out []ledger.VoucherLine
	for _, l := range t.st.lines {
		if l.Ref() == ref {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetailNo < out[j].DetailNo })
	return out, nil
}

func (t *txView) SaveVoucherLine(_ context.Context, l ledger.VoucherLine) error {
	t.st.lines[lineKey{voucherType: l.VoucherType, detailNo: l.DetailNo}] = l
	return nil
}
