package repost

import (
	"slices"
	"time"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// WorkItem is one chain replay: a pair and the point it is replayed from.
type WorkItem struct {
	Key     ledger.Key        `json:"key"`
	Start   time.Time         `json:"start"`
	Voucher ledger.VoucherRef `json:"voucher"`
}

// PairState tracks a pair seen by the coordinator.
type PairState struct {
	Key       ledger.Key `json:"key"`
	Processed bool       `json:"processed"`
	Index     int        `json:"index"`
	DetailNos []string   `json:"dependent_detail_nos,omitempty"`
}

// WorkQueue is the coordinator worklist. Items are consumed by index so
// dependents appended mid-run are picked up by the same pass.
type WorkQueue struct {
	items    []WorkItem
	pairs    map[ledger.Key]*PairState
	index    int
	affected []ledger.VoucherRef
	seen     map[ledger.VoucherRef]struct{}
}

// NewWorkQueue seeds a queue. A pair listed twice keeps its earliest start.
func NewWorkQueue(seed []WorkItem) *WorkQueue {
	q := &WorkQueue{
		pairs: make(map[ledger.Key]*PairState),
		seen:  make(map[ledger.VoucherRef]struct{}),
	}
	for _, item := range seed {
		if st, ok := q.pairs[item.Key]; ok {
			if item.Start.Before(q.items[st.Index].Start) {
				q.items[st.Index].Start = item.Start
			}
			continue
		}
		q.enqueue(item)
	}
	return q
}

func (q *WorkQueue) enqueue(item WorkItem) {
	st, ok := q.pairs[item.Key]
	if !ok {
		st = &PairState{Key: item.Key}
		q.pairs[item.Key] = st
	}
	st.Processed = false
	st.Index = len(q.items)
	q.items = append(q.items, item)
}

// AddDependent registers a chain fed by the chain being replayed. The earliest
// start wins: a pending pair moves its slot earlier in place, a processed pair
// is queued again. It reports whether the queue gained work.
func (q *WorkQueue) AddDependent(dep ledger.Entry) bool {
	item := WorkItem{Key: dep.Key(), Start: dep.PostedAt, Voucher: dep.Ref()}
	st, ok := q.pairs[item.Key]
	if !ok {
		q.enqueue(item)
		q.pairs[item.Key].DetailNos = appendDetail(nil, dep.VoucherDetailNo)
		return true
	}

	known := dep.VoucherDetailNo == "" || slices.Contains(st.DetailNos, dep.VoucherDetailNo)
	st.DetailNos = appendDetail(st.DetailNos, dep.VoucherDetailNo)

	if !st.Processed {
		slot := &q.items[st.Index]
		if item.Start.Before(slot.Start) {
			slot.Start = item.Start
			slot.Voucher = item.Voucher
			return true
		}
		return false
	}

	if known && !item.Start.Before(q.items[st.Index].Start) {
		return false
	}
	q.enqueue(item)
	return true
}

func appendDetail(nos []string, no string) []string {
	if no == "" || slices.Contains(nos, no) {
		return nos
	}
	return append(nos, no)
}

// Next returns the item at the current index.
func (q *WorkQueue) Next() (WorkItem, bool) {
	if q.index >= len(q.items) {
		return WorkItem{}, false
	}
	return q.items[q.index], true
}

// Done marks the current item processed, records the vouchers it touched and
// advances the index.
func (q *WorkQueue) Done(affected []ledger.VoucherRef) {
	if q.index >= len(q.items) {
		return
	}
	item := q.items[q.index]
	if st, ok := q.pairs[item.Key]; ok && st.Index == q.index {
		st.Processed = true
	}
	for _, ref := range affected {
		q.addAffected(ref)
	}
	q.index++
}

func (q *WorkQueue) addAffected(ref ledger.VoucherRef) {
	if ref.IsZero() {
		return
	}
	if _, ok := q.seen[ref]; ok {
		return
	}
	q.seen[ref] = struct{}{}
	q.affected = append(q.affected, ref)
}

// Index is the position of the next item to process.
func (q *WorkQueue) Index() int { return q.index }

// Len is the number of items queued so far, processed included.
func (q *WorkQueue) Len() int { return len(q.items) }

// Items returns a copy of the worklist.
func (q *WorkQueue) Items() []WorkItem {
	return slices.Clone(q.items)
}

// Affected returns the vouchers touched so far in first-seen order.
func (q *WorkQueue) Affected() []ledger.VoucherRef {
	return slices.Clone(q.affected)
}

// Pair returns the state of key.
func (q *WorkQueue) Pair(key ledger.Key) (PairState, bool) {
	st, ok := q.pairs[key]
	if !ok {
		return PairState{}, false
	}
	out := *st
	out.DetailNos = slices.Clone(st.DetailNos)
	return out, true
}

// Checkpoint captures the queue for persistence.
func (q *WorkQueue) Checkpoint() *Checkpoint {
	pairs := make([]PairState, 0, len(q.pairs))
	for _, item := range q.items {
		st := q.pairs[item.Key]
		if st == nil || slices.ContainsFunc(pairs, func(p PairState) bool { return p.Key == item.Key }) {
			continue
		}
		out := *st
		out.DetailNos = slices.Clone(st.DetailNos)
		pairs = append(pairs, out)
	}
	return &Checkpoint{
		Version:  CheckpointVersion,
		Items:    q.Items(),
		Pairs:    pairs,
		Index:    q.index,
		Affected: q.Affected(),
	}
}

// RestoreWorkQueue rebuilds a queue from a checkpoint.
func RestoreWorkQueue(cp *Checkpoint) (*WorkQueue, error) {
	if cp == nil {
		return NewWorkQueue(nil), nil
	}
	if cp.Version != CheckpointVersion {
		return nil, ErrCheckpointVersion
	}
	q := &WorkQueue{
		items: slices.Clone(cp.Items),
		pairs: make(map[ledger.Key]*PairState, len(cp.Pairs)),
		index: cp.Index,
		seen:  make(map[ledger.VoucherRef]struct{}),
	}
	for _, p := range cp.Pairs {
		st := p
		st.DetailNos = slices.Clone(p.DetailNos)
		q.pairs[p.Key] = &st
	}
	for i, item := range q.items {
		if _, ok := q.pairs[item.Key]; !ok {
			q.pairs[item.Key] = &PairState{Key: item.Key, Index: i, Processed: i < q.index}
		}
	}
	for _, ref := range cp.Affected {
		q.addAffected(ref)
	}
	if q.index > len(q.items) {
		q.index = len(q.items)
	}
	return q, nil
}
