package repost_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	ledgermem "github.com/odyssey-erp/stockledger/internal/ledger/memstore"
	"github.com/odyssey-erp/stockledger/internal/posting"
	"github.com/odyssey-erp/stockledger/internal/repost"
	"github.com/odyssey-erp/stockledger/internal/repost/memstore"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

var (
	stores  = ledger.Key{ItemCode: "ITEM-A", Warehouse: "Stores"}
	transit = ledger.Key{ItemCode: "ITEM-A", Warehouse: "Transit"}
	day     = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

type fakeGL struct {
	mu       sync.Mutex
	requests []repost.GLRepostRequest
	fail     func(call int) error
	// wait runs before a batch is accepted; an error rejects the batch.
	wait func(ctx context.Context) error
}

func (g *fakeGL) RepostVouchers(ctx context.Context, req repost.GLRepostRequest) error {
	if g.wait != nil {
		if err := g.wait(ctx); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	call := len(g.requests)
	g.requests = append(g.requests, req)
	if g.fail != nil {
		return g.fail(call)
	}
	return nil
}

func (g *fakeGL) vouchers() []ledger.VoucherRef {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []ledger.VoucherRef
	for _, req := range g.requests {
		out = append(out, req.Vouchers...)
	}
	return out
}

type fakeNotifier struct {
	jobs []repost.Job
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, job repost.Job) error {
	n.jobs = append(n.jobs, job)
	return nil
}

type fixture struct {
	ledger   *ledgermem.Store
	store    *memstore.Store
	svc      *repost.Service
	posting  *posting.Service
	gl       *fakeGL
	notifier *fakeNotifier
	now      time.Time
}

func newFixture(t *testing.T, cfg repost.Config, items ...ledger.Item) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledgerStore := ledgermem.New()
	if len(items) == 0 {
		items = []ledger.Item{stockItem("ITEM-A", valuation.MethodFIFO)}
	}
	for _, item := range items {
		ledgerStore.PutItem(item)
	}
	f := &fixture{
		ledger:   ledgerStore,
		store:    memstore.New(ledgerStore),
		gl:       &fakeGL{},
		notifier: &fakeNotifier{},
		now:      day.Add(72 * time.Hour),
	}
	engine := posting.NewEngine(posting.Config{}, nil, logger)
	f.svc = repost.NewService(f.store, engine, cfg, logger, nil).
		WithGLReposter(f.gl).
		WithNotifier(f.notifier).
		WithClock(func() time.Time { return f.now })
	f.posting = posting.NewService(ledgerStore, engine, f.svc, logger, nil)
	return f
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

func voucher(vt ledger.VoucherType, no string) ledger.VoucherRef {
	return ledger.VoucherRef{Type: vt, No: no}
}

func (f *fixture) record(t *testing.T, ref ledger.VoucherRef, entries ...ledger.Entry) posting.MovementResult {
	t.Helper()
	res, err := f.posting.RecordMovement(context.Background(), posting.MovementRequest{
		Voucher: ref,
		Company: "ACME",
		Entries: entries,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) cancel(ref ledger.VoucherRef) (posting.MovementResult, error) {
	return f.posting.RecordMovement(context.Background(), posting.MovementRequest{
		Voucher: ref,
		Company: "ACME",
		Cancel:  true,
	})
}

// backdate records PR-1 and DN-1 and then a receipt posted between them,
// which leaves one queued Transaction job for PR-2.
func (f *fixture) backdate(t *testing.T) repost.Job {
	t.Helper()
	f.record(t, voucher(ledger.VoucherPurchaseReceipt, "PR-1"), move(stores, day, 10, 10))
	f.record(t, voucher(ledger.VoucherDeliveryNote, "DN-1"), move(stores, day.Add(2*time.Hour), -4, 0))
	res := f.record(t, voucher(ledger.VoucherPurchaseReceipt, "PR-2"), move(stores, day.Add(time.Hour), 5, 20))
	require.True(t, res.RepostScheduled)
	require.Len(t, res.JobIDs, 1)
	return f.job(t, res.JobIDs[0])
}

func (f *fixture) job(t *testing.T, id string) repost.Job {
	t.Helper()
	job, ok := f.store.Job(id)
	require.True(t, ok, "job %s", id)
	return job
}

func (f *fixture) runDue(t *testing.T) repost.RunSummary {
	t.Helper()
	summary, err := f.svc.RunDue(context.Background())
	require.NoError(t, err)
	return summary
}

// chain returns the live entries of key in ledger order.
func (f *fixture) chain(key ledger.Key) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range f.ledger.Entries() {
		if e.IsCancelled || e.Key() != key {
			continue
		}
		out = append(out, e)
	}
	return out
}

func postingReceipt(no string, entries ...ledger.Entry) posting.MovementRequest {
	return posting.MovementRequest{
		Voucher: voucher(ledger.VoucherPurchaseReceipt, no),
		Company: "ACME",
		Entries: entries,
	}
}

func postingStockEntry(no string, consume, produce ledger.Entry) posting.MovementRequest {
	return posting.MovementRequest{
		Voucher: voucher(ledger.VoucherStockEntry, no),
		Company: "ACME",
		Entries: []ledger.Entry{consume, produce},
		Lines: []ledger.VoucherLine{
			{DetailNo: consume.VoucherDetailNo, ItemCode: consume.ItemCode, Qty: -consume.ActualQty, Rate: 10, ValuationRate: 10},
			{DetailNo: produce.VoucherDetailNo, ItemCode: produce.ItemCode, Qty: produce.ActualQty, Rate: 20, ValuationRate: 20, IsFinishedItem: true},
		},
	}
}
