package repost

import (
	"context"
	"time"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// Store opens transactions spanning the ledger and the job table.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// FiscalPeriod is a closed accounting period.
type FiscalPeriod struct {
	Name  string
	Start time.Time
	End   time.Time
}

// ClosingBalance is a completed Closing Stock Balance document.
type ClosingBalance struct {
	Name      string
	ItemCode  string
	Warehouse string
	ToDate    time.Time
}

// Tx exposes transactional job operations.
type Tx interface {
	Ledger() ledger.Tx

	InsertJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	// GetJob locks and returns the job.
	GetJob(ctx context.Context, id string) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	// DueJobs returns active jobs created at or before now, oldest posting first.
	DueJobs(ctx context.Context, now time.Time) ([]Job, error)
	// SkipSuperseded marks queued Item-and-Warehouse jobs of the same pair posted after job Skipped.
	SkipSuperseded(ctx context.Context, job Job, now time.Time) (int, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	LastClosedFiscalYearEnd(ctx context.Context, company string) (time.Time, bool, error)
	ClosedAccountingPeriod(ctx context.Context, company string, vt ledger.VoucherType, on time.Time) (FiscalPeriod, bool, error)
	// ClosingStockBalance finds a completed balance covering on. Blank item or warehouse on the document match any.
	ClosingStockBalance(ctx context.Context, company, itemCode, warehouse string, on time.Time) (ClosingBalance, bool, error)
}
