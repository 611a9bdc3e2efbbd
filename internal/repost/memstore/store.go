// Package memstore is an in-memory repost.Store layered over the in-memory ledger.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	ledgermem "github.com/odyssey-erp/stockledger/internal/ledger/memstore"
	"github.com/odyssey-erp/stockledger/internal/repost"
)

type period struct {
	company string
	period  repost.FiscalPeriod
	docs    []ledger.VoucherType
}

type closing struct {
	company string
	balance repost.ClosingBalance
}

// Store keeps repost jobs in memory. Job writes commit and roll back together
// with the ledger transaction they run in.
type Store struct {
	Ledger *ledgermem.Store

	mu         sync.Mutex
	jobs       map[string]repost.Job
	fiscalEnds map[string]time.Time
	periods    []period
	closings   []closing
}

// New constructs a Store over ledgerStore. A nil ledger store gets a fresh one.
func New(ledgerStore *ledgermem.Store) *Store {
	if ledgerStore == nil {
		ledgerStore = ledgermem.New()
	}
	return &Store{
		Ledger:     ledgerStore,
		jobs:       make(map[string]repost.Job),
		fiscalEnds: make(map[string]time.Time),
	}
}

// WithTx runs fn inside a ledger transaction. A returned error discards job writes as well.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, repost.Tx) error) error {
	return s.Ledger.WithTx(ctx, func(ctx context.Context, ltx ledger.Tx) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		snapshot := make(map[string]repost.Job, len(s.jobs))
		for id, job := range s.jobs {
			snapshot[id] = cloneJob(job)
		}
		if err := fn(ctx, &txView{store: s, ledger: ltx}); err != nil {
			s.jobs = snapshot
			return err
		}
		return nil
	})
}

// PutFiscalYearClosing records a closed fiscal year.
func (s *Store) PutFiscalYearClosing(company string, yearEnd time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.fiscalEnds[company]; !ok || yearEnd.After(cur) {
		s.fiscalEnds[company] = yearEnd
	}
}

// PutClosedPeriod records an accounting period closed for the given voucher types.
func (s *Store) PutClosedPeriod(company string, p repost.FiscalPeriod, docs ...ledger.VoucherType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods = append(s.periods, period{company: company, period: p, docs: docs})
}

// PutClosingStockBalance records a completed Closing Stock Balance.
func (s *Store) PutClosingStockBalance(company string, b repost.ClosingBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closings = append(s.closings, closing{company: company, balance: b})
}

// Job returns a stored job without opening a transaction.
func (s *Store) Job(id string) (repost.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return cloneJob(job), ok
}

func cloneJob(job repost.Job) repost.Job {
	job.Warnings = slices.Clone(job.Warnings)
	if job.Checkpoint != nil {
		cp := *job.Checkpoint
		cp.Items = slices.Clone(cp.Items)
		cp.Pairs = slices.Clone(cp.Pairs)
		for i := range cp.Pairs {
			cp.Pairs[i].DetailNos = slices.Clone(cp.Pairs[i].DetailNos)
		}
		cp.Affected = slices.Clone(cp.Affected)
		job.Checkpoint = &cp
	}
	return job
}

type txView struct {
	store  *Store
	ledger ledger.Tx
}

func (t *txView) Ledger() ledger.Tx { return t.ledger }

func (t *txView) InsertJob(_ context.Context, job repost.Job) error {
	t.store.jobs[job.ID] = cloneJob(job)
	return nil
}

func (t *txView) UpdateJob(_ context.Context, job repost.Job) error {
	if _, ok := t.store.jobs[job.ID]; !ok {
		return repost.ErrJobNotFound
	}
	t.store.jobs[job.ID] = cloneJob(job)
	return nil
}

func (t *txView) GetJob(_ context.Context, id string) (repost.Job, error) {
	job, ok := t.store.jobs[id]
	if !ok {
		return repost.Job{}, repost.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (t *txView) ListJobs(_ context.Context, f repost.JobFilter) ([]repost.Job, error) {
	var out []repost.Job
	for _, job := range t.store.jobs {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, job.Status) {
			continue
		}
		if f.BasedOn != "" && job.BasedOn != f.BasedOn {
			continue
		}
		if !f.Voucher.IsZero() && job.Voucher != f.Voucher {
			continue
		}
		if f.ItemCode != "" && job.ItemCode != f.ItemCode {
			continue
		}
		if f.Warehouse != "" && job.Warehouse != f.Warehouse {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *txView) DueJobs(_ context.Context, now time.Time) ([]repost.Job, error) {
	var out []repost.Job
	for _, job := range t.store.jobs {
		if job.Status.Active() && !job.CreatedAt.After(now) {
			out = append(out, cloneJob(job))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.PostedAt.Equal(b.PostedAt) {
			return a.PostedAt.Before(b.PostedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (t *txView) SkipSuperseded(_ context.Context, job repost.Job, now time.Time) (int, error) {
	n := 0
	for id, other := range t.store.jobs {
		if id == job.ID || other.BasedOn != repost.BasedOnItemWarehouse || other.Status != repost.StatusQueued {
			continue
		}
		if other.ItemCode != job.ItemCode || other.Warehouse != job.Warehouse || !other.PostedAt.After(job.PostedAt) {
			continue
		}
		other.Status = repost.StatusSkipped
		other.UpdatedAt = now
		t.store.jobs[id] = other
		n++
	}
	return n, nil
}

func (t *txView) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, job := range t.store.jobs {
		if (job.Status == repost.StatusCompleted || job.Status == repost.StatusSkipped) && job.UpdatedAt.Before(cutoff) {
			delete(t.store.jobs, id)
			n++
		}
	}
	return n, nil
}

func (t *txView) LastClosedFiscalYearEnd(_ context.Context, company string) (time.Time, bool, error) {
	end, ok := t.store.fiscalEnds[company]
	return end, ok, nil
}

func (t *txView) ClosedAccountingPeriod(_ context.Context, company string, vt ledger.VoucherType, on time.Time) (repost.FiscalPeriod, bool, error) {
	for _, p := range t.store.periods {
		if p.company != company || !slices.Contains(p.docs, vt) {
			continue
		}
		if !on.Before(p.period.Start) && !on.After(p.period.End) {
			return p.period, true, nil
		}
	}
	return repost.FiscalPeriod{}, false, nil
}

func (t *txView) ClosingStockBalance(_ context.Context, company, itemCode, warehouse string, on time.Time) (repost.ClosingBalance, bool, error) {
	for _, c := range t.store.closings {
		b := c.balance
		if c.company != company || b.ToDate.Before(on) {
			continue
		}
		if (b.ItemCode == "" || b.ItemCode == itemCode) && (b.Warehouse == "" || b.Warehouse == warehouse) {
			return b, true, nil
		}
	}
	return repost.ClosingBalance{}, false, nil
}

var _ repost.Store = (*Store)(nil)
