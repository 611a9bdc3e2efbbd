package posting

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/ledger/memstore"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

var (
	stores = ledger.Key{ItemCode: "ITEM-A", Warehouse: "Stores"}
	day    = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

type fakeScheduler struct {
	store       ledger.Store
	requests    []RepostRequest
	cancelled   []ledger.VoucherRef
	ran         []string
	cancelErr   error
	scheduleErr error
	runErr      error
}

func (f *fakeScheduler) WithVoucherTx(ctx context.Context, fn func(context.Context, ledger.Tx, VoucherJobs) error) error {
	return f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, tx, f)
	})
}

func (f *fakeScheduler) RunScheduled(_ context.Context, ids []string) error {
	f.ran = append(f.ran, ids...)
	return f.runErr
}

func (f *fakeScheduler) BeforeCancel(_ context.Context, ref ledger.VoucherRef) error {
	f.cancelled = append(f.cancelled, ref)
	return f.cancelErr
}

func (f *fakeScheduler) Schedule(_ context.Context, req RepostRequest) ([]string, error) {
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	f.requests = append(f.requests, req)
	return []string{"job-" + req.Voucher.No}, nil
}

type recordingSink struct {
	deps []ledger.Entry
}

func (s *recordingSink) AddDependent(dep ledger.Entry) bool {
	s.deps = append(s.deps, dep)
	return true
}

type fixture struct {
	store  *memstore.Store
	engine *Engine
	svc    *Service
	sched  *fakeScheduler
}

func newFixture(t *testing.T, cfg Config, items ...ledger.Item) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	for _, item := range items {
		store.PutItem(item)
	}
	engine := NewEngine(cfg, nil, logger)
	sched := &fakeScheduler{store: store}
	return &fixture{store: store, engine: engine, sched: sched, svc: NewService(store, engine, sched, logger, nil)}
}

func stockItem(code string, method valuation.Method) ledger.Item {
	return ledger.Item{Code: code, ValuationMethod: method, IsStockItem: true}
}

func move(key ledger.Key, at time.Time, qty, rate float64) ledger.Entry {
	e := ledger.Entry{ItemCode: key.ItemCode, Warehouse: key.Warehouse, PostedAt: at, ActualQty: qty}
	if qty > 0 {
		e.IncomingRate = rate
	} else {
		e.OutgoingRate = rate
	}
	return e
}

func (f *fixture) record(t *testing.T, vt ledger.VoucherType, no string, entries ...ledger.Entry) MovementResult {
	t.Helper()
	res, err := f.svc.RecordMovement(context.Background(), MovementRequest{
		Voucher: ledger.VoucherRef{Type: vt, No: no},
		Company: "ACME",
		Entries: entries,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) repost(t *testing.T, key ledger.Key, from time.Time, sink DependencySink) Result {
	t.Helper()
	var res Result
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		res, err = f.engine.UpdateEntriesAfter(ctx, tx, Args{Key: key, Start: from, Dependencies: sink})
		return err
	})
	require.NoError(t, err)
	return res
}

// chain returns the live entries of key in ledger order.
func (f *fixture) chain(key ledger.Key) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range f.store.Entries() {
		if e.IsCancelled || e.Key() != key {
			continue
		}
		out = append(out, e)
	}
	return out
}

func requireBalanceInvariant(t *testing.T, chain []ledger.Entry) {
	t.Helper()
	var qty float64
	for _, e := range chain {
		qty += e.ActualQty
		require.InDelta(t, qty, e.QtyAfterTransaction, 1e-9, "entry %s of %s", e.ID, e.VoucherNo)
	}
}
